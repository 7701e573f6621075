package models

import "time"

// SyncMeta records the last successful sync per table or view. It is
// observability data only; correctness never depends on it.
type SyncMeta struct {
	Tabel      string `json:"tabel"`
	LastSyncAt int64  `json:"last_sync_at"`
	RowCount   int    `json:"row_count"`
}

// TableName returns the table name for SyncMeta.
func (SyncMeta) TableName() string {
	return "sync_meta"
}

// Time returns LastSyncAt as time.Time.
func (m *SyncMeta) Time() time.Time {
	return time.Unix(m.LastSyncAt, 0)
}
