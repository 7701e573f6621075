package models

// View projections are computed by the backend and mirrored wholesale;
// the client never patches them incrementally.

// PenagihanView is the denormalized billing dashboard row.
type PenagihanView struct {
	ID               int64  `json:"id"`
	TokoID           int64  `json:"toko_id"`
	TokoNama         string `json:"toko_nama"`
	Kecamatan        string `json:"kecamatan"`
	SalesNama        string `json:"sales_nama"`
	Total            int64  `json:"total"`
	TotalPotongan    int64  `json:"total_potongan"`
	JumlahItem       int    `json:"jumlah_item"`
	MetodePembayaran string `json:"metode_pembayaran"`
	Tanggal          string `json:"tanggal"`
}

// TableName returns the view name for PenagihanView.
func (PenagihanView) TableName() string {
	return "v_penagihan"
}

// PengirimanView is the denormalized shipment dashboard row.
type PengirimanView struct {
	ID         int64  `json:"id"`
	TokoID     int64  `json:"toko_id"`
	TokoNama   string `json:"toko_nama"`
	Kecamatan  string `json:"kecamatan"`
	JumlahItem int    `json:"jumlah_item"`
	TotalNilai int64  `json:"total_nilai"`
	Tanggal    string `json:"tanggal"`
}

// TableName returns the view name for PengirimanView.
func (PengirimanView) TableName() string {
	return "v_pengiriman"
}

// SetoranView is the denormalized deposit dashboard row.
type SetoranView struct {
	ID           int64  `json:"id"`
	Tanggal      string `json:"tanggal"`
	TotalSetoran int64  `json:"total_setoran"`
	Keterangan   string `json:"keterangan"`
}

// TableName returns the view name for SetoranView.
func (SetoranView) TableName() string {
	return "v_setoran"
}
