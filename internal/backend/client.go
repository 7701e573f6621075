// Package backend defines the remote backend contract the core consumes:
// bulk reads for hydration, a per-table change feed, and the write API
// the outbox dispatcher drains into. The backend owns auth, the schema
// and all join/aggregation logic; the core only mirrors rows.
package backend

import (
	"context"
	"encoding/json"
)

// ChangeType is the kind of change-feed event.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one per-row event from the change feed. Old is set for
// update and delete, New for insert and update. IdemKey round-trips the
// client-supplied idempotency key when the originating write carried
// one; reconciliation uses it for exact placeholder matching.
type ChangeEvent struct {
	Table   string          `json:"table"`
	Type    ChangeType      `json:"type"`
	Old     json.RawMessage `json:"old,omitempty"`
	New     json.RawMessage `json:"new,omitempty"`
	IdemKey string          `json:"idem_key,omitempty"`
}

// Client is the backend read/write API.
type Client interface {
	// BulkRead pages through a base table ordered by primary key,
	// returning rows with pk > afterPK, at most limit of them.
	BulkRead(ctx context.Context, table string, afterPK int64, limit int) ([]json.RawMessage, error)

	// BulkReadView reads a view projection in a single bounded fetch.
	BulkReadView(ctx context.Context, view string, limit int) ([]json.RawMessage, error)

	// Insert writes a new row and returns the confirmed row as the
	// backend stored it (with its assigned primary key). idemKey, when
	// non-empty, is persisted alongside the row and echoed on the
	// corresponding change-feed event.
	Insert(ctx context.Context, table string, payload interface{}, idemKey string) (json.RawMessage, error)

	// Update patches rows where pkField equals pk.
	Update(ctx context.Context, table, pkField string, pk int64, patch interface{}) error

	// Delete removes rows where pkField equals pk.
	Delete(ctx context.Context, table, pkField string, pk int64) error
}

// Feed is a long-lived change-feed subscription over a set of base
// tables. Events for a given table arrive in backend emission order;
// cross-table ordering is not guaranteed.
type Feed interface {
	// Run connects and pumps events until ctx is cancelled or the
	// connection fails. Reconnection policy belongs to the caller.
	Run(ctx context.Context, tables []string) error

	// Events is the delivery channel. It is closed when Run returns.
	Events() <-chan ChangeEvent

	// Connected reports whether the feed is currently live.
	Connected() bool
}
