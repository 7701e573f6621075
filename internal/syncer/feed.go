package syncer

import (
	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/backend"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/optimistic"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// ApplyEvent folds one change-feed event into the local mirror.
//
// Inserts run through reconciliation so a provisional record written by
// this client is replaced rather than duplicated: an echoed idempotency
// key resolves the placeholder exactly, otherwise the table's match
// heuristic decides. Updates overwrite under last-writer-wins; deletes
// remove the row. The affected table is marked dirty on inv so dependent
// views refetch after the debounce window.
func (e *Engine) ApplyEvent(ev backend.ChangeEvent, inv *Invalidator) error {
	if _, ok := store.TableByName(ev.Table); !ok {
		logging.Debug("Ignoring feed event for unmirrored table", map[string]interface{}{
			"table": ev.Table,
		})
		return nil
	}

	var err error
	switch ev.Type {
	case backend.ChangeInsert:
		err = e.applyInsert(ev)
	case backend.ChangeUpdate:
		err = e.applyUpdate(ev)
	case backend.ChangeDelete:
		err = e.applyDelete(ev)
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown feed event type %q", ev.Type)
	}
	if err != nil {
		return err
	}

	if inv != nil {
		inv.MarkDirty(ev.Table)
	}
	return nil
}

func (e *Engine) applyInsert(ev backend.ChangeEvent) error {
	var placeholderID int64
	if ev.IdemKey != "" {
		if entry, err := e.q.FindByIdemKey(ev.IdemKey); err == nil && optimistic.IsPlaceholder(entry.LocalPlaceholderID) {
			placeholderID = entry.LocalPlaceholderID
		}
	}
	return e.rec.Reconcile(ev.Table, ev.New, placeholderID)
}

// applyUpdate overwrites the local row with the confirmed state. A
// pending local patch for the same row is superseded; the outbox intent
// still drains and the backend's final state comes back on its own
// feed event (last writer wins).
func (e *Engine) applyUpdate(ev backend.ChangeEvent) error {
	sch, _ := store.TableByName(ev.Table)
	pk, _, err := decodeRow(ev.New, sch.PKField)
	if err != nil {
		return err
	}
	return e.s.Put(ev.Table, store.Record{ID: pk, Data: ev.New})
}

func (e *Engine) applyDelete(ev backend.ChangeEvent) error {
	sch, _ := store.TableByName(ev.Table)
	pk, _, err := decodeRow(ev.Old, sch.PKField)
	if err != nil {
		return err
	}
	return e.s.Delete(ev.Table, pk)
}
