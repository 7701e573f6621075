package models

// Line item status values for PenagihanProduk.
const (
	ItemTerjual = "terjual" // sold at the store
	ItemKembali = "kembali" // returned to the warehouse
)

// Penagihan represents a billing/collection header. Total is the sum of
// line item subtotals before any potongan.
type Penagihan struct {
	ID               int64  `json:"id"`
	TokoID           int64  `json:"toko_id"`
	Total            int64  `json:"total"`
	MetodePembayaran string `json:"metode_pembayaran"`
	Tanggal          string `json:"tanggal"` // YYYY-MM-DD
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

// TableName returns the table name for Penagihan.
func (Penagihan) TableName() string {
	return "penagihan"
}

// PenagihanProduk represents a billing line item.
type PenagihanProduk struct {
	ID          int64  `json:"id"`
	PenagihanID int64  `json:"penagihan_id"`
	ProdukID    int64  `json:"produk_id"`
	Jumlah      int    `json:"jumlah"`
	Harga       int64  `json:"harga"`
	Status      string `json:"status"` // terjual or kembali
}

// TableName returns the table name for PenagihanProduk.
func (PenagihanProduk) TableName() string {
	return "penagihan_produk"
}

// Subtotal returns jumlah * harga for the line item.
func (p *PenagihanProduk) Subtotal() int64 {
	return int64(p.Jumlah) * p.Harga
}

// Potongan represents an optional discount attached to a billing record.
type Potongan struct {
	ID          int64  `json:"id"`
	PenagihanID int64  `json:"penagihan_id"`
	Jumlah      int64  `json:"jumlah"`
	Keterangan  string `json:"keterangan"`
}

// TableName returns the table name for Potongan.
func (Potongan) TableName() string {
	return "potongan"
}
