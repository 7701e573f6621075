package models

// Toko represents a consignment store.
type Toko struct {
	ID         int64  `json:"id"`
	Nama       string `json:"nama"`
	Alamat     string `json:"alamat"`
	Kecamatan  string `json:"kecamatan"`
	NoHP       string `json:"no_hp"`
	SalesID    int64  `json:"sales_id"`
	StatusToko bool   `json:"status_toko"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// TableName returns the table name for Toko.
func (Toko) TableName() string {
	return "toko"
}
