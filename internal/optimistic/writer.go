package optimistic

import (
	"encoding/json"
	"time"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Writer applies mutations optimistically. All entity operations share
// three generic paths: provisional insert, patch-and-mark-pending
// update, and delete with per-table semantics from the schema registry.
type Writer struct {
	s *store.Store
	q *outbox.Queue
}

// NewWriter creates a Writer. Placeholder ids persisted in the outbox
// survive a restart, so the counter is seeded below the lowest one
// still on disk to keep new ids disjoint.
func NewWriter(s *store.Store, q *outbox.Queue) *Writer {
	if min, err := q.MinPlaceholderID(); err == nil && min < 0 {
		seedPlaceholderFloor(min)
	}
	return &Writer{s: s, q: q}
}

// insertRecord writes a provisional record and its insert intent in one
// transaction. model must already carry the placeholder id in its id
// field; the enqueued row is the model without id and timestamps, since
// the backend assigns its own.
func (w *Writer) insertRecord(table string, placeholderID int64, model interface{}) (*store.Record, error) {
	rec, err := store.NewRecord(placeholderID, model)
	if err != nil {
		return nil, err
	}
	rec.Pending = true

	txn, err := w.s.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	if err := txn.Put(table, rec); err != nil {
		return nil, err
	}

	row, err := stripServerFields(rec.Data)
	if err != nil {
		return nil, err
	}
	payload, err := outbox.EncodePayload(outbox.InsertPayload{Row: row})
	if err != nil {
		return nil, err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:              table,
		Operation:          outbox.OpInsert,
		Payload:            payload,
		PKField:            "id",
		LocalPlaceholderID: placeholderID,
	}); err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// updateRecord shallow-merges patch into the stored record, marks it
// pending and enqueues the update intent.
func (w *Writer) updateRecord(table string, id int64, patch map[string]interface{}) error {
	rec, err := w.s.Get(table, id)
	if err != nil {
		return err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(rec.Data, &fields); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "decode stored record", err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	fields["updated_at"] = time.Now().Unix()

	data, err := json.Marshal(fields)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode merged record", err)
	}
	rec.Data = data
	rec.Pending = true

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode patch", err)
	}
	payload, err := outbox.EncodePayload(outbox.UpdatePayload{PK: id, Patch: patchJSON})
	if err != nil {
		return err
	}

	txn, err := w.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Put(table, *rec); err != nil {
		return err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:     table,
		Operation: outbox.OpUpdate,
		Payload:   payload,
		PKField:   "id",
	}); err != nil {
		return err
	}
	return txn.Commit()
}

// deleteRecord applies the table's delete semantics: tables with a
// declared soft-delete field get that flag flipped to false (an update
// on the backend); the rest are flagged deleted locally and a real
// delete intent is enqueued.
func (w *Writer) deleteRecord(table string, id int64) error {
	sch, ok := store.TableByName(table)
	if !ok {
		return apperrors.Newf(apperrors.ErrUnknownTable, "delete: unknown table %q", table)
	}

	if sch.SoftDeleteField != "" {
		return w.updateRecord(table, id, map[string]interface{}{sch.SoftDeleteField: false})
	}

	rec, err := w.s.Get(table, id)
	if err != nil {
		return err
	}
	rec.Deleted = true
	rec.Pending = true

	payload, err := outbox.EncodePayload(outbox.DeletePayload{PK: id})
	if err != nil {
		return err
	}

	txn, err := w.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Put(table, *rec); err != nil {
		return err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:     table,
		Operation: outbox.OpDelete,
		Payload:   payload,
		PKField:   "id",
	}); err != nil {
		return err
	}
	return txn.Commit()
}

// stripServerFields removes the fields the backend assigns itself.
func stripServerFields(data json.RawMessage) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "decode record", err)
	}
	delete(m, "id")
	delete(m, "created_at")
	delete(m, "updated_at")
	out, err := json.Marshal(m)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode row", err)
	}
	return out, nil
}
