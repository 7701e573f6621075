// Package outbox implements the durable write-intent queue. Every user
// mutation appends one entry here in the same transaction as its
// optimistic local writes; the dispatcher drains entries to the backend
// in creation order.
package outbox

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one persisted write intent.
type Entry struct {
	ID                 int64
	Tabel              string
	Operation          Operation
	Payload            json.RawMessage
	PKField            string
	LocalPlaceholderID int64
	IdemKey            string
	RetryCount         int
	Status             Status
	ErrorMessage       string
	CreatedAt          int64
	UpdatedAt          int64
}

// Queue persists entries in the outbox table of the local store.
type Queue struct {
	s *store.Store
}

// NewQueue creates a Queue over the given store.
func NewQueue(s *store.Store) *Queue {
	return &Queue{s: s}
}

const entryColumns = "id, tabel, operation, payload, pk_field, local_placeholder_id, idempotency_key, retry_count, status, error_message, created_at, updated_at"

// Enqueue appends an entry within the caller's store transaction, so
// the optimistic local writes and the intent commit or fail together.
// The entry gets a fresh idempotency key unless one is already set.
// Failure here must propagate to the user synchronously: silently
// dropping a write is the worst failure mode of this design.
func (q *Queue) Enqueue(txn *store.Txn, e *Entry) error {
	now := time.Now().Unix()
	e.Status = StatusPending
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.IdemKey == "" {
		e.IdemKey = uuid.New().String()
	}

	res, err := txn.Tx().Exec(`INSERT INTO outbox
		(tabel, operation, payload, pk_field, local_placeholder_id, idempotency_key, retry_count, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', ?, ?)`,
		e.Tabel, string(e.Operation), string(e.Payload), e.PKField,
		e.LocalPlaceholderID, e.IdemKey, string(e.Status), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrEnqueueFailed, "enqueue "+string(e.Operation), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrEnqueueFailed, "enqueue id", err)
	}
	e.ID = id

	logging.Debug("Enqueued outbox entry", map[string]interface{}{
		"id":        e.ID,
		"tabel":     e.Tabel,
		"operation": e.Operation,
	})
	return nil
}

// PeekPending returns up to limit entries in pending or failed status,
// oldest first. Failed entries re-enter the drain on every cycle; a
// backoff gate in the dispatcher decides whether to actually retry them.
func (q *Queue) PeekPending(limit int) ([]Entry, error) {
	rows, err := q.s.DB().Query(
		"SELECT "+entryColumns+" FROM outbox WHERE status IN (?, ?) ORDER BY id LIMIT ?",
		string(StatusPending), string(StatusFailed), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "peek pending", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MinPlaceholderID returns the lowest placeholder id recorded on any
// entry, 0 when none exist. Used to re-seed the placeholder counter
// after a restart.
func (q *Queue) MinPlaceholderID() (int64, error) {
	var min int64
	err := q.s.DB().QueryRow("SELECT COALESCE(MIN(local_placeholder_id), 0) FROM outbox").Scan(&min)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "min placeholder id", err)
	}
	return min, nil
}

// FindByIdemKey returns the entry carrying the given idempotency key,
// or ErrNotFound. Change-feed events that echo a key resolve their
// placeholder through this lookup instead of the match heuristic.
func (q *Queue) FindByIdemKey(key string) (*Entry, error) {
	row := q.s.DB().QueryRow("SELECT "+entryColumns+" FROM outbox WHERE idempotency_key = ?", key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "outbox: no entry with key %s", key)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "find by idempotency key", err)
	}
	return e, nil
}

// Get returns one entry by id.
func (q *Queue) Get(id int64) (*Entry, error) {
	row := q.s.DB().QueryRow("SELECT "+entryColumns+" FROM outbox WHERE id = ?", id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "outbox: no entry %d", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get entry", err)
	}
	return e, nil
}

// MarkInProgress transitions an entry to in_progress.
func (q *Queue) MarkInProgress(id int64) error {
	return q.setStatus(id, StatusInProgress, "")
}

// MarkCompleted transitions an entry to completed.
func (q *Queue) MarkCompleted(id int64) error {
	return q.setStatus(id, StatusCompleted, "")
}

// MarkFailed transitions an entry to failed, recording the error and
// bumping its retry count.
func (q *Queue) MarkFailed(id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.s.DB().Exec(
		"UPDATE outbox SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ? WHERE id = ?",
		string(StatusFailed), msg, time.Now().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "mark entry failed", err)
	}
	return nil
}

func (q *Queue) setStatus(id int64, status Status, errMsg string) error {
	_, err := q.s.DB().Exec(
		"UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		string(status), errMsg, time.Now().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "set entry status", err)
	}
	return nil
}

// Stats summarizes the queue for the sync-status surface.
type Stats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Stats returns entry counts by status.
func (q *Queue) Stats() (Stats, error) {
	rows, err := q.s.DB().Query("SELECT status, COUNT(*) FROM outbox GROUP BY status")
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.ErrDatabase, "outbox stats", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, apperrors.Wrap(apperrors.ErrDatabase, "scan stats", err)
		}
		switch Status(status) {
		case StatusPending:
			st.Pending = n
		case StatusInProgress:
			st.InProgress = n
		case StatusCompleted:
			st.Completed = n
		case StatusFailed:
			st.Failed = n
		}
		st.Total += n
	}
	return st, rows.Err()
}

// RetryFailed resets all failed entries to pending and clears their
// error message. This is the manual re-drain path surfaced in the
// sync-status UI.
func (q *Queue) RetryFailed() (int, error) {
	res, err := q.s.DB().Exec(
		"UPDATE outbox SET status = ?, error_message = '', retry_count = 0, updated_at = ? WHERE status = ?",
		string(StatusPending), time.Now().Unix(), string(StatusFailed))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "retry failed entries", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("Reset failed outbox entries for retry", map[string]interface{}{
			"count": n,
		})
	}
	return int(n), nil
}

// RecoverInProgress resets in_progress entries back to pending. A crash
// between MarkInProgress and the terminal mark leaves entries stranded
// in in_progress, where the drain would never pick them up again; the
// session runs this once at startup. The backend call may or may not
// have landed, which is what the idempotency key is for.
func (q *Queue) RecoverInProgress() (int, error) {
	res, err := q.s.DB().Exec(
		"UPDATE outbox SET status = ?, updated_at = ? WHERE status = ?",
		string(StatusPending), time.Now().Unix(), string(StatusInProgress))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "recover in-progress entries", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Warn("Recovered stranded in-progress outbox entries", map[string]interface{}{
			"count": n,
		})
	}
	return int(n), nil
}

// Prune removes completed entries older than the cutoff. Failed entries
// are retained until retried or removed by an operator.
func (q *Queue) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := q.s.DB().Exec(
		"DELETE FROM outbox WHERE status = ? AND updated_at < ?",
		string(StatusCompleted), cutoff)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "prune outbox", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan entry", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var e Entry
	var op, status, payload string
	if err := sc.Scan(&e.ID, &e.Tabel, &op, &payload, &e.PKField,
		&e.LocalPlaceholderID, &e.IdemKey, &e.RetryCount, &status, &e.ErrorMessage,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Operation = Operation(op)
	e.Status = Status(status)
	e.Payload = json.RawMessage(payload)
	return &e, nil
}
