package models

// Pengiriman represents a shipment header. Shipments have hard-delete
// semantics: a locally deleted shipment is flagged deleted and hidden
// until the remote delete is confirmed.
type Pengiriman struct {
	ID         int64  `json:"id"`
	TokoID     int64  `json:"toko_id"`
	Tanggal    string `json:"tanggal"` // YYYY-MM-DD
	Keterangan string `json:"keterangan"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// TableName returns the table name for Pengiriman.
func (Pengiriman) TableName() string {
	return "pengiriman"
}

// PengirimanProduk represents a shipment line item.
type PengirimanProduk struct {
	ID           int64 `json:"id"`
	PengirimanID int64 `json:"pengiriman_id"`
	ProdukID     int64 `json:"produk_id"`
	Jumlah       int   `json:"jumlah"`
	Harga        int64 `json:"harga"`
}

// TableName returns the table name for PengirimanProduk.
func (PengirimanProduk) TableName() string {
	return "pengiriman_produk"
}
