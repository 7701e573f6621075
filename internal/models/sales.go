// Package models provides data model definitions for the dashboard core.
//
// All timestamps are Unix epoch seconds. Primary keys are backend-assigned
// positive integers; records written optimistically before confirmation
// carry a negative placeholder id instead.
package models

// Sales represents a sales representative.
type Sales struct {
	ID          int64  `json:"id"`
	Nama        string `json:"nama"`
	NoHP        string `json:"no_hp"`
	StatusAktif bool   `json:"status_aktif"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// TableName returns the table name for Sales.
func (Sales) TableName() string {
	return "sales"
}
