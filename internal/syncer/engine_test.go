package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dadinugroho/robshop-core/internal/backend"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// fakeBackend serves canned rows for hydration and counts view reads.
type fakeBackend struct {
	mu         sync.Mutex
	tables     map[string][]json.RawMessage // ordered by id ascending
	views      map[string][]json.RawMessage
	viewReads  map[string]int
	failTables map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tables:     make(map[string][]json.RawMessage),
		views:      make(map[string][]json.RawMessage),
		viewReads:  make(map[string]int),
		failTables: make(map[string]bool),
	}
}

func (f *fakeBackend) addRows(table string, n int) {
	for i := 1; i <= n; i++ {
		f.tables[table] = append(f.tables[table],
			json.RawMessage(fmt.Sprintf(`{"id":%d,"nama":"row-%d"}`, i, i)))
	}
}

func (f *fakeBackend) BulkRead(ctx context.Context, table string, afterPK int64, limit int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTables[table] {
		return nil, fmt.Errorf("induced read failure on %s", table)
	}
	var out []json.RawMessage
	for _, row := range f.tables[table] {
		var m struct {
			ID int64 `json:"id"`
		}
		json.Unmarshal(row, &m)
		if m.ID > afterPK {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeBackend) BulkReadView(ctx context.Context, view string, limit int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewReads[view]++
	rows := f.views[view]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeBackend) Insert(ctx context.Context, table string, payload interface{}, idemKey string) (json.RawMessage, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeBackend) Update(ctx context.Context, table, pkField string, pk int64, patch interface{}) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeBackend) Delete(ctx context.Context, table, pkField string, pk int64) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeBackend) reads(view string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewReads[view]
}

func testEngine(t *testing.T, fb *fakeBackend, cfg Config) (*Engine, *store.Store, *outbox.Queue) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	q := outbox.NewQueue(s)
	return NewEngine(s, fb, q, cfg, nil), s, q
}

// TestHydratePages verifies paged hydration lands every row even when
// the table spans multiple pages.
func TestHydratePages(t *testing.T) {
	fb := newFakeBackend()
	fb.addRows(store.TableProduk, 25)

	e, s, _ := testEngine(t, fb, Config{PageSize: 10})
	require.NoError(t, e.Hydrate(context.Background()))

	n, err := s.Count(store.TableProduk)
	require.NoError(t, err)
	require.Equal(t, 25, n)
	require.Equal(t, 100, e.Progress())

	meta, err := e.Meta()
	require.NoError(t, err)
	byName := make(map[string]MetaEntry)
	for _, m := range meta {
		byName[m.Table] = m
	}
	require.Equal(t, 25, byName[store.TableProduk].RowCount)
	require.NotZero(t, byName[store.TableProduk].LastSyncAt)
}

// TestHydrateFullReplace verifies rows deleted on the backend disappear
// locally after a re-hydration.
func TestHydrateFullReplace(t *testing.T) {
	fb := newFakeBackend()
	fb.addRows(store.TableProduk, 5)

	e, s, _ := testEngine(t, fb, Config{})
	require.NoError(t, e.Hydrate(context.Background()))

	// Simulate a stale local row the backend no longer has.
	require.NoError(t, s.Put(store.TableProduk, store.Record{ID: 99, Data: []byte(`{"id":99,"nama":"stale"}`)}))

	require.NoError(t, e.Hydrate(context.Background()))
	_, err := s.Get(store.TableProduk, 99)
	require.Error(t, err, "stale row must be removed by full replace")

	n, _ := s.Count(store.TableProduk)
	require.Equal(t, 5, n)
}

// TestHydrateTableFailureContinues verifies one failing table does not
// abort the others and is named in the returned error.
func TestHydrateTableFailureContinues(t *testing.T) {
	fb := newFakeBackend()
	fb.addRows(store.TableProduk, 3)
	fb.addRows(store.TableSales, 2)
	fb.failTables[store.TableSales] = true

	e, s, _ := testEngine(t, fb, Config{})
	err := e.Hydrate(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), store.TableSales))

	n, _ := s.Count(store.TableProduk)
	require.Equal(t, 3, n, "healthy tables must still hydrate")
}

// TestSyncViewsReplacesMirror verifies a view refetch replaces the
// mirror wholesale.
func TestSyncViewsReplacesMirror(t *testing.T) {
	fb := newFakeBackend()
	fb.views[store.ViewSetoran] = []json.RawMessage{
		[]byte(`{"id":1,"tanggal":"2026-08-01","total_setoran":100}`),
	}

	e, s, _ := testEngine(t, fb, Config{})
	require.NoError(t, e.SyncViews(context.Background(), store.ViewSetoran))

	rows, err := s.Query(store.ViewSetoran, store.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	fb.mu.Lock()
	fb.views[store.ViewSetoran] = []json.RawMessage{
		[]byte(`{"id":2,"tanggal":"2026-08-02","total_setoran":200}`),
	}
	fb.mu.Unlock()

	require.NoError(t, e.SyncViews(context.Background(), store.ViewSetoran))
	rows, err = s.Query(store.ViewSetoran, store.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].ID)
}

// TestApplyEventInsertReconciles verifies a feed insert carrying this
// client's idempotency key replaces the provisional record.
func TestApplyEventInsertReconciles(t *testing.T) {
	fb := newFakeBackend()
	e, s, q := testEngine(t, fb, Config{})

	require.NoError(t, s.Put(store.TableSales, store.Record{
		ID: -3, Pending: true,
		Data: []byte(`{"id":-3,"nama":"Budi","no_hp":"0812","status_aktif":true}`),
	}))
	txn, err := s.Begin()
	require.NoError(t, err)
	entry := &outbox.Entry{
		Tabel:              store.TableSales,
		Operation:          outbox.OpInsert,
		Payload:            []byte(`{"row":{}}`),
		PKField:            "id",
		LocalPlaceholderID: -3,
	}
	require.NoError(t, q.Enqueue(txn, entry))
	require.NoError(t, txn.Commit())

	ev := backend.ChangeEvent{
		Table:   store.TableSales,
		Type:    backend.ChangeInsert,
		New:     []byte(`{"id":41,"nama":"Budi","no_hp":"0812","status_aktif":true}`),
		IdemKey: entry.IdemKey,
	}
	require.NoError(t, e.ApplyEvent(ev, nil))

	_, err = s.Get(store.TableSales, -3)
	require.Error(t, err, "provisional row must be replaced, not duplicated")
	rec, err := s.Get(store.TableSales, 41)
	require.NoError(t, err)
	require.False(t, rec.Pending)
}

func TestApplyEventUpdateAndDelete(t *testing.T) {
	fb := newFakeBackend()
	e, s, _ := testEngine(t, fb, Config{})

	require.NoError(t, s.Put(store.TableProduk, store.Record{ID: 5, Data: []byte(`{"id":5,"nama":"Keripik","harga":1000}`)}))

	require.NoError(t, e.ApplyEvent(backend.ChangeEvent{
		Table: store.TableProduk,
		Type:  backend.ChangeUpdate,
		New:   []byte(`{"id":5,"nama":"Keripik","harga":1500}`),
	}, nil))
	rec, err := s.Get(store.TableProduk, 5)
	require.NoError(t, err)
	require.Equal(t, float64(1500), rec.Field("harga"))

	require.NoError(t, e.ApplyEvent(backend.ChangeEvent{
		Table: store.TableProduk,
		Type:  backend.ChangeDelete,
		Old:   []byte(`{"id":5,"nama":"Keripik","harga":1500}`),
	}, nil))
	_, err = s.Get(store.TableProduk, 5)
	require.Error(t, err)
}

func TestApplyEventUnknownTableIgnored(t *testing.T) {
	fb := newFakeBackend()
	e, _, _ := testEngine(t, fb, Config{})

	require.NoError(t, e.ApplyEvent(backend.ChangeEvent{
		Table: "audit_log",
		Type:  backend.ChangeInsert,
		New:   []byte(`{"id":1}`),
	}, nil))
}

// TestInvalidatorCoalesces verifies a burst of marks inside the debounce
// window produces one refresh per dependent view.
func TestInvalidatorCoalesces(t *testing.T) {
	fb := newFakeBackend()
	e, _, _ := testEngine(t, fb, Config{DebounceWindow: 50 * time.Millisecond})
	inv := NewInvalidator(e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		inv.Run(ctx)
	}()

	// Setoran and penagihan both feed v_setoran; penagihan also feeds
	// v_penagihan. Burst of marks within the window.
	for i := 0; i < 5; i++ {
		inv.MarkDirty(store.TableSetoran)
		inv.MarkDirty(store.TablePenagihan)
	}

	require.Eventually(t, func() bool {
		return fb.reads(store.ViewSetoran) == 1 && fb.reads(store.ViewPenagihan) == 1
	}, 2*time.Second, 10*time.Millisecond, "expected exactly one refresh per view")

	// Quiet period: no further refreshes.
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, fb.reads(store.ViewSetoran))

	// A new mark after the flush triggers a fresh cycle.
	inv.MarkDirty(store.TableSetoran)
	require.Eventually(t, func() bool {
		return fb.reads(store.ViewSetoran) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
