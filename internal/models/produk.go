package models

// Produk represents a consigned product.
type Produk struct {
	ID           int64  `json:"id"`
	Nama         string `json:"nama"`
	Harga        int64  `json:"harga"`
	StatusProduk bool   `json:"status_produk"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// TableName returns the table name for Produk.
func (Produk) TableName() string {
	return "produk"
}
