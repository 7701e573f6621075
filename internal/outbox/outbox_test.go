package outbox

import (
	"testing"
	"time"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/store"
)

func testQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewQueue(s), s
}

func enqueue(t *testing.T, q *Queue, s *store.Store, e *Entry) {
	t.Helper()
	txn, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := q.Enqueue(txn, e); err != nil {
		txn.Rollback()
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestEnqueueDefaults(t *testing.T) {
	q, s := testQueue(t)

	e := &Entry{
		Tabel:     store.TableProduk,
		Operation: OpInsert,
		Payload:   []byte(`{"row":{"nama":"Keripik"}}`),
	}
	enqueue(t, q, s, e)

	if e.ID == 0 {
		t.Error("Expected assigned entry id")
	}
	if e.Status != StatusPending {
		t.Errorf("Expected pending status, got %s", e.Status)
	}
	if e.IdemKey == "" {
		t.Error("Expected generated idempotency key")
	}
	if e.CreatedAt == 0 || e.UpdatedAt == 0 {
		t.Error("Expected timestamps to be set")
	}
}

// TestEnqueueRollsBackWithTxn verifies the intent disappears with the
// surrounding transaction: write and intent are all-or-nothing.
func TestEnqueueRollsBackWithTxn(t *testing.T) {
	q, s := testQueue(t)

	txn, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	e := &Entry{Tabel: store.TableProduk, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	if err := q.Enqueue(txn, e); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	txn.Rollback()

	st, err := q.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 0 {
		t.Errorf("Expected empty outbox after rollback, got %d entries", st.Total)
	}
}

func TestPeekPendingOrder(t *testing.T) {
	q, s := testQueue(t)

	for i := 0; i < 3; i++ {
		enqueue(t, q, s, &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)})
	}

	entries, err := q.PeekPending(10)
	if err != nil {
		t.Fatalf("PeekPending failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Errorf("Entries out of creation order: %d before %d", entries[i-1].ID, entries[i].ID)
		}
	}
}

// TestPeekIncludesFailed verifies failed entries re-enter the drain
// alongside pending ones, but completed entries never do.
func TestPeekIncludesFailed(t *testing.T) {
	q, s := testQueue(t)

	a := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	b := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	enqueue(t, q, s, a)
	enqueue(t, q, s, b)

	if err := q.MarkFailed(a.ID, apperrors.New(apperrors.ErrBackendWrite, "boom")); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := q.MarkCompleted(b.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	entries, err := q.PeekPending(10)
	if err != nil {
		t.Fatalf("PeekPending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != a.ID {
		t.Fatalf("Expected only the failed entry, got %+v", entries)
	}
	if entries[0].RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", entries[0].RetryCount)
	}
	if entries[0].ErrorMessage == "" {
		t.Error("Expected recorded error message")
	}
}

func TestFindByIdemKey(t *testing.T) {
	q, s := testQueue(t)

	e := &Entry{Tabel: store.TableToko, Operation: OpInsert, Payload: []byte(`{"row":{}}`), LocalPlaceholderID: -3}
	enqueue(t, q, s, e)

	got, err := q.FindByIdemKey(e.IdemKey)
	if err != nil {
		t.Fatalf("FindByIdemKey failed: %v", err)
	}
	if got.ID != e.ID || got.LocalPlaceholderID != -3 {
		t.Errorf("Wrong entry: %+v", got)
	}

	if _, err := q.FindByIdemKey("missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRetryFailedResets(t *testing.T) {
	q, s := testQueue(t)

	e := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	enqueue(t, q, s, e)
	q.MarkFailed(e.ID, apperrors.New(apperrors.ErrBackendWrite, "boom"))
	q.MarkFailed(e.ID, apperrors.New(apperrors.ErrBackendWrite, "boom again"))

	n, err := q.RetryFailed()
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 reset entry, got %d", n)
	}

	got, err := q.Get(e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending || got.RetryCount != 0 || got.ErrorMessage != "" {
		t.Errorf("Entry not reset: %+v", got)
	}
}

// TestRecoverInProgressResets simulates a crash after MarkInProgress:
// the stranded entry must re-enter the pending set, while terminal
// entries are untouched.
func TestRecoverInProgressResets(t *testing.T) {
	q, s := testQueue(t)

	stranded := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	done := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	enqueue(t, q, s, stranded)
	enqueue(t, q, s, done)
	if err := q.MarkInProgress(stranded.ID); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	if err := q.MarkCompleted(done.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	entries, err := q.PeekPending(10)
	if err != nil {
		t.Fatalf("PeekPending failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("In-progress entry must not drain before recovery: %+v", entries)
	}

	n, err := q.RecoverInProgress()
	if err != nil {
		t.Fatalf("RecoverInProgress failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 recovered entry, got %d", n)
	}

	entries, err = q.PeekPending(10)
	if err != nil {
		t.Fatalf("PeekPending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != stranded.ID || entries[0].Status != StatusPending {
		t.Fatalf("Expected the stranded entry back in pending, got %+v", entries)
	}
	if got, _ := q.Get(done.ID); got.Status != StatusCompleted {
		t.Errorf("Completed entry must survive recovery, got %s", got.Status)
	}
}

func TestPruneRemovesOnlyOldCompleted(t *testing.T) {
	q, s := testQueue(t)

	done := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	failed := &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)}
	enqueue(t, q, s, done)
	enqueue(t, q, s, failed)
	q.MarkCompleted(done.ID)
	q.MarkFailed(failed.ID, apperrors.New(apperrors.ErrBackendWrite, "boom"))

	// Cutoff in the future relative to updated_at removes the completed
	// entry; the failed one is retained regardless of age.
	n, err := q.Prune(-time.Minute)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned entry, got %d", n)
	}
	if _, err := q.Get(failed.ID); err != nil {
		t.Errorf("Failed entry must survive prune: %v", err)
	}
}

func TestStats(t *testing.T) {
	q, s := testQueue(t)

	for i := 0; i < 3; i++ {
		enqueue(t, q, s, &Entry{Tabel: store.TableSales, Operation: OpInsert, Payload: []byte(`{"row":{}}`)})
	}
	entries, _ := q.PeekPending(10)
	q.MarkCompleted(entries[0].ID)
	q.MarkFailed(entries[1].ID, apperrors.New(apperrors.ErrBackendWrite, "boom"))

	st, err := q.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Pending != 1 || st.Completed != 1 || st.Failed != 1 || st.Total != 3 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}
