package syncer

import (
	"encoding/json"
	"reflect"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/optimistic"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Reconciler swaps provisional records for their confirmed identity.
// Shared by the change-feed path (other clients' writes) and the
// dispatcher (this client's own insert results).
type Reconciler struct {
	s *store.Store
}

// NewReconciler creates a Reconciler.
func NewReconciler(s *store.Store) *Reconciler {
	return &Reconciler{s: s}
}

// Reconcile removes the provisional record matching the confirmed row,
// re-points provisional children at the confirmed id, and upserts the
// confirmed record. placeholderID pins the provisional row exactly when
// known (dispatcher path, idempotency-key hit); pass 0 to fall back to
// the table's match-field heuristic. A missing match is non-fatal: the
// confirmed record is written regardless.
func (r *Reconciler) Reconcile(table string, confirmed json.RawMessage, placeholderID int64) error {
	sch, ok := store.TableByName(table)
	if !ok {
		return apperrors.Newf(apperrors.ErrUnknownTable, "reconcile: unknown table %q", table)
	}

	confirmedID, confirmedFields, err := decodeRow(confirmed, sch.PKField)
	if err != nil {
		return err
	}

	txn, err := r.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	pid := placeholderID
	if pid == 0 {
		pid, err = r.findMatch(txn, sch, confirmedFields)
		if err != nil {
			return err
		}
	}

	if optimistic.IsPlaceholder(pid) {
		if err := txn.Delete(table, pid); err != nil {
			return err
		}
		if err := r.repointChildren(txn, sch, pid, confirmedID); err != nil {
			return err
		}
	}

	rec := store.Record{ID: confirmedID, Data: confirmed}
	if err := txn.Put(table, rec); err != nil {
		return err
	}
	return txn.Commit()
}

// findMatch scans provisional rows for one whose match fields equal the
// confirmed row's. Returns 0 when nothing matches.
func (r *Reconciler) findMatch(txn *store.Txn, sch store.TableSchema, confirmed map[string]interface{}) (int64, error) {
	pending := true
	rows, err := txn.Query(sch.Name, store.QueryOptions{
		Pending:        &pending,
		IncludeDeleted: true,
	})
	if err != nil {
		return 0, err
	}

	for _, rec := range rows {
		if !optimistic.IsPlaceholder(rec.ID) {
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(rec.Data, &fields); err != nil {
			continue
		}
		if matchesAll(sch.MatchFields, fields, confirmed) {
			return rec.ID, nil
		}
	}
	return 0, nil
}

// repointChildren rewrites provisional children referencing the old
// placeholder so their own reconciliation can still match them.
func (r *Reconciler) repointChildren(txn *store.Txn, sch store.TableSchema, placeholderID, confirmedID int64) error {
	for childTable, fkField := range sch.ChildRefs {
		children, err := txn.Query(childTable, store.QueryOptions{
			Index:          fkField,
			Value:          placeholderID,
			IncludeDeleted: true,
		})
		if err != nil {
			return err
		}
		for _, child := range children {
			var fields map[string]interface{}
			if err := json.Unmarshal(child.Data, &fields); err != nil {
				continue
			}
			fields[fkField] = confirmedID
			data, err := json.Marshal(fields)
			if err != nil {
				continue
			}
			child.Data = data
			if err := txn.Put(childTable, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rollback undoes an abandoned provisional write: an abandoned insert's
// placeholder row is removed; an abandoned update or delete restores the
// pre-mutation snapshot. Not triggered automatically; this is the
// operator path for permanently failed outbox entries.
func (r *Reconciler) Rollback(table string, placeholderID int64, snapshot *store.Record) error {
	if snapshot != nil {
		restored := *snapshot
		restored.Pending = false
		restored.Deleted = false
		return r.s.Put(table, restored)
	}
	if !optimistic.IsPlaceholder(placeholderID) {
		return apperrors.Newf(apperrors.ErrInvalid, "rollback: %d is not a placeholder id", placeholderID)
	}
	logging.Info("Rolling back abandoned provisional insert", map[string]interface{}{
		"table": table,
		"id":    placeholderID,
	})
	return r.s.Delete(table, placeholderID)
}

// decodeRow extracts the primary key and field map from a backend row.
func decodeRow(row json.RawMessage, pkField string) (int64, map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(row, &fields); err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrInvalid, "decode confirmed row", err)
	}
	pk, ok := fields[pkField].(float64)
	if !ok {
		return 0, nil, apperrors.Newf(apperrors.ErrInvalid, "confirmed row missing %q", pkField)
	}
	return int64(pk), fields, nil
}

// matchesAll compares the declared match fields. JSON round-tripping
// normalizes numbers to float64 on both sides. DeepEqual keeps the
// comparison safe should a match field ever hold an array or object.
func matchesAll(fields []string, a, b map[string]interface{}) bool {
	for _, f := range fields {
		if !reflect.DeepEqual(a[f], b[f]) {
			return false
		}
	}
	return len(fields) > 0
}
