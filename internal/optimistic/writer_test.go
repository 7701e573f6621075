package optimistic

import (
	"testing"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/models"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

func testWriter(t *testing.T) (*Writer, *store.Store, *outbox.Queue) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q := outbox.NewQueue(s)
	return NewWriter(s, q), s, q
}

// TestNewWriterReseedsPlaceholders verifies a restart with persisted
// outbox placeholders keeps new ids disjoint from the old ones.
func TestNewWriterReseedsPlaceholders(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q := outbox.NewQueue(s)

	txn, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := q.Enqueue(txn, &outbox.Entry{
		Tabel:              store.TableSales,
		Operation:          outbox.OpInsert,
		Payload:            []byte(`{"row":{}}`),
		LocalPlaceholderID: -1000000,
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	NewWriter(s, q)
	if id := PlaceholderID(); id >= -1000000 {
		t.Errorf("Expected ids below persisted floor, got %d", id)
	}
}

// TestInsertVisibleImmediately verifies the provisional record is
// readable before any network call, with a placeholder id and the
// pending flag, alongside exactly one insert intent.
func TestInsertVisibleImmediately(t *testing.T) {
	w, s, q := testWriter(t)

	sales, err := w.InsertSales(models.Sales{Nama: "Budi", NoHP: "0812"})
	if err != nil {
		t.Fatalf("InsertSales failed: %v", err)
	}
	if !IsPlaceholder(sales.ID) {
		t.Errorf("Expected placeholder id, got %d", sales.ID)
	}
	if !sales.StatusAktif {
		t.Error("Expected new sales rep to be active")
	}

	rec, err := s.Get(store.TableSales, sales.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.Pending {
		t.Error("Expected provisional record to be pending")
	}

	entries, err := q.PeekPending(10)
	if err != nil {
		t.Fatalf("PeekPending failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 outbox entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Operation != outbox.OpInsert || e.Tabel != store.TableSales || e.LocalPlaceholderID != sales.ID {
		t.Errorf("Unexpected entry: %+v", e)
	}

	// The enqueued row must not carry the placeholder id; the backend
	// assigns the real one.
	p, err := e.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	ins := p.(*outbox.InsertPayload)
	var sent map[string]interface{}
	if err := (&store.Record{Data: ins.Row}).Decode(&sent); err != nil {
		t.Fatalf("decode sent row failed: %v", err)
	}
	if _, ok := sent["id"]; ok {
		t.Error("Enqueued row must not contain id")
	}
	if sent["nama"] != "Budi" {
		t.Errorf("Enqueued row lost fields: %v", sent)
	}
}

func TestUpdateMergesAndMarksPending(t *testing.T) {
	w, s, _ := testWriter(t)

	rec := store.Record{ID: 9, Data: []byte(`{"id":9,"nama":"Toko A","alamat":"Jl. Mawar","status_toko":true}`)}
	if err := s.Put(store.TableToko, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := w.UpdateToko(9, map[string]interface{}{"alamat": "Jl. Melati"}); err != nil {
		t.Fatalf("UpdateToko failed: %v", err)
	}

	got, err := s.Get(store.TableToko, 9)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Pending {
		t.Error("Expected updated record to be pending")
	}
	if got.Field("alamat") != "Jl. Melati" {
		t.Errorf("Patch not applied: %v", got.Field("alamat"))
	}
	if got.Field("nama") != "Toko A" {
		t.Error("Untouched fields must survive the merge")
	}
	if got.Field("updated_at") == nil {
		t.Error("Expected updated_at to be refreshed")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	w, _, _ := testWriter(t)

	err := w.UpdateProduk(404, map[string]interface{}{"harga": 1000})
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestSoftDeleteFlipsFlag verifies tables with a soft-delete field get
// an update intent, not a delete, and the row stays present.
func TestSoftDeleteFlipsFlag(t *testing.T) {
	w, s, q := testWriter(t)

	rec := store.Record{ID: 3, Data: []byte(`{"id":3,"nama":"Keripik","status_produk":true}`)}
	if err := s.Put(store.TableProduk, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := w.DeleteProduk(3); err != nil {
		t.Fatalf("DeleteProduk failed: %v", err)
	}

	got, err := s.Get(store.TableProduk, 3)
	if err != nil {
		t.Fatalf("Record must remain retrievable by id: %v", err)
	}
	if got.Deleted {
		t.Error("Soft delete must not set the deleted flag")
	}
	if got.Field("status_produk") != false {
		t.Errorf("Expected status_produk=false, got %v", got.Field("status_produk"))
	}

	entries, _ := q.PeekPending(10)
	if len(entries) != 1 || entries[0].Operation != outbox.OpUpdate {
		t.Errorf("Expected one update intent, got %+v", entries)
	}
}

// TestHardDeleteHidesRecord verifies hard-delete tables flag the row
// deleted, hide it from standard reads, and enqueue a real delete.
func TestHardDeleteHidesRecord(t *testing.T) {
	w, s, q := testWriter(t)

	rec := store.Record{ID: 6, Data: []byte(`{"id":6,"tanggal":"2026-08-20","total_setoran":500000}`)}
	if err := s.Put(store.TableSetoran, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := w.DeleteSetoran(6); err != nil {
		t.Fatalf("DeleteSetoran failed: %v", err)
	}

	rows, err := s.Query(store.TableSetoran, store.QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Deleted record leaked into standard read: %v", rows)
	}

	entries, _ := q.PeekPending(10)
	if len(entries) != 1 || entries[0].Operation != outbox.OpDelete {
		t.Errorf("Expected one delete intent, got %+v", entries)
	}
}
