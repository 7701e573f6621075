package models

// Setoran represents a cash deposit. Deposits have hard-delete semantics:
// a locally deleted setoran is flagged deleted and excluded from all
// standard reads until the remote delete is confirmed.
type Setoran struct {
	ID           int64  `json:"id"`
	Tanggal      string `json:"tanggal"` // YYYY-MM-DD
	TotalSetoran int64  `json:"total_setoran"`
	Keterangan   string `json:"keterangan"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// TableName returns the table name for Setoran.
func (Setoran) TableName() string {
	return "setoran"
}
