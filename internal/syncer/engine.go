// Package syncer keeps the local mirror converged with the backend:
// paged hydration on startup, full-replace view projections with
// debounced invalidation, change-feed application and provisional
// record reconciliation, all owned by a SyncSession.
package syncer

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/backend"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Config configures the sync engine.
type Config struct {
	PageSize       int           // rows per hydration page
	HydrateFanOut  int           // tables hydrated concurrently
	ViewFanOut     int           // views refreshed concurrently
	DebounceWindow time.Duration // view invalidation settle time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:       1000,
		HydrateFanOut:  3,
		ViewFanOut:     2,
		DebounceWindow: time.Second,
	}
}

// EventType classifies a sync progress event.
type EventType string

const (
	EventStart         EventType = "start"
	EventTableStart    EventType = "table_start"
	EventTableComplete EventType = "table_complete"
	EventProgress      EventType = "progress"
	EventComplete      EventType = "complete"
)

// Event is one progress notification emitted during hydration.
type Event struct {
	Type    EventType
	Table   string
	Rows    int
	Percent int
	Error   string
}

// EventFunc receives progress events. Called from hydration goroutines;
// implementations must be safe for concurrent use.
type EventFunc func(Event)

// Engine drives hydration, view refresh and change-feed application.
type Engine struct {
	s       *store.Store
	client  backend.Client
	q       *outbox.Queue
	rec     *Reconciler
	cfg     Config
	onEvent EventFunc

	progress atomic.Int32
}

// NewEngine creates an Engine. onEvent may be nil.
func NewEngine(s *store.Store, client backend.Client, q *outbox.Queue, cfg Config, onEvent EventFunc) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.HydrateFanOut <= 0 {
		cfg.HydrateFanOut = def.HydrateFanOut
	}
	if cfg.ViewFanOut <= 0 {
		cfg.ViewFanOut = def.ViewFanOut
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}
	return &Engine{
		s:       s,
		client:  client,
		q:       q,
		rec:     NewReconciler(s),
		cfg:     cfg,
		onEvent: onEvent,
	}
}

// Reconciler returns the engine's reconciler, for injection into the
// dispatcher.
func (e *Engine) Reconciler() *Reconciler {
	return e.rec
}

// Progress returns the last hydration progress as a percentage.
func (e *Engine) Progress() int {
	return int(e.progress.Load())
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// Hydrate replaces every mirrored base table with backend state, tables
// fanned out with a bounded concurrency, then refreshes all view
// mirrors. One table failing is logged and reported but does not stop
// the others; the error names every table that failed.
func (e *Engine) Hydrate(ctx context.Context) error {
	e.progress.Store(0)
	e.emit(Event{Type: EventStart})

	total := len(store.Tables)
	var done atomic.Int32
	failed := make([]string, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.HydrateFanOut)
	for i, t := range store.Tables {
		i, t := i, t
		g.Go(func() error {
			e.emit(Event{Type: EventTableStart, Table: t.Name})
			rows, err := e.hydrateTable(gctx, t)
			if err != nil {
				failed[i] = t.Name
				logging.Error("Table hydration failed", err, map[string]interface{}{
					"table": t.Name,
				})
				e.emit(Event{Type: EventTableComplete, Table: t.Name, Error: err.Error()})
			} else {
				e.emit(Event{Type: EventTableComplete, Table: t.Name, Rows: rows})
			}
			pct := int(done.Add(1)) * 100 / total
			e.progress.Store(int32(pct))
			e.emit(Event{Type: EventProgress, Percent: pct})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := e.SyncViews(ctx); err != nil {
		logging.Error("View refresh after hydration failed", err, nil)
	}

	e.progress.Store(100)
	e.emit(Event{Type: EventComplete, Percent: 100})

	var bad []string
	for _, name := range failed {
		if name != "" {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		return apperrors.Newf(apperrors.ErrSyncFailed, "hydration failed for: %s", strings.Join(bad, ", "))
	}
	return nil
}

// hydrateTable full-replaces one base table: clear, then page through
// the backend ordered by primary key, bulk-writing each page.
func (e *Engine) hydrateTable(ctx context.Context, t store.TableSchema) (int, error) {
	if err := e.s.Clear(t.Name); err != nil {
		return 0, err
	}

	var afterPK int64
	count := 0
	for {
		rows, err := e.client.BulkRead(ctx, t.Name, afterPK, e.cfg.PageSize)
		if err != nil {
			return count, err
		}
		if len(rows) == 0 {
			break
		}

		recs := make([]store.Record, 0, len(rows))
		for _, row := range rows {
			pk, _, err := decodeRow(row, t.PKField)
			if err != nil {
				return count, err
			}
			recs = append(recs, store.Record{ID: pk, Data: row})
			if pk > afterPK {
				afterPK = pk
			}
		}
		if err := e.s.BulkPut(t.Name, recs); err != nil {
			return count, err
		}
		count += len(recs)

		if len(rows) < e.cfg.PageSize {
			break
		}
	}

	if err := e.upsertMeta(t.Name, count); err != nil {
		return count, err
	}
	logging.Debug("Hydrated table", map[string]interface{}{
		"table": t.Name,
		"rows":  count,
	})
	return count, nil
}

// SyncViews full-replaces the named view mirrors (all views when none
// are named), fanned out with a bounded concurrency. Views have no
// provisional state, so replacement is always safe.
func (e *Engine) SyncViews(ctx context.Context, views ...string) error {
	var targets []store.ViewSchema
	if len(views) == 0 {
		targets = store.Views
	} else {
		for _, name := range views {
			if v, ok := store.ViewByName(name); ok {
				targets = append(targets, v)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ViewFanOut)
	for _, v := range targets {
		v := v
		g.Go(func() error {
			return e.syncView(gctx, v)
		})
	}
	return g.Wait()
}

func (e *Engine) syncView(ctx context.Context, v store.ViewSchema) error {
	rows, err := e.client.BulkReadView(ctx, v.Name, v.FetchLimit)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "fetch view "+v.Name, err)
	}

	recs := make([]store.Record, 0, len(rows))
	for i, row := range rows {
		// View rows carry an id column; fall back to ordinal position
		// for projections that do not expose one.
		id := int64(i + 1)
		if pk, _, err := decodeRow(row, "id"); err == nil {
			id = pk
		}
		recs = append(recs, store.Record{ID: id, Data: row})
	}

	txn, err := e.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := txn.Clear(v.Name); err != nil {
		return err
	}
	if err := txn.BulkPut(v.Name, recs); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	if err := e.upsertMeta(v.Name, len(recs)); err != nil {
		return err
	}
	logging.Debug("Refreshed view mirror", map[string]interface{}{
		"view": v.Name,
		"rows": len(recs),
	})
	return nil
}

// upsertMeta records last sync time and row count for one table or view.
func (e *Engine) upsertMeta(table string, count int) error {
	_, err := e.s.DB().Exec(`INSERT INTO sync_meta (tabel, last_sync_at, row_count) VALUES (?, ?, ?)
		ON CONFLICT(tabel) DO UPDATE SET last_sync_at=excluded.last_sync_at, row_count=excluded.row_count`,
		table, time.Now().Unix(), count)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "upsert sync_meta", err)
	}
	return nil
}

// MetaEntry is one sync_meta row.
type MetaEntry struct {
	Table      string `json:"tabel"`
	LastSyncAt int64  `json:"last_sync_at"`
	RowCount   int    `json:"row_count"`
}

// Meta returns sync metadata for every hydrated table and view.
func (e *Engine) Meta() ([]MetaEntry, error) {
	rows, err := e.s.DB().Query("SELECT tabel, last_sync_at, row_count FROM sync_meta ORDER BY tabel")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "read sync_meta", err)
	}
	defer rows.Close()

	var out []MetaEntry
	for rows.Next() {
		var m MetaEntry
		if err := rows.Scan(&m.Table, &m.LastSyncAt, &m.RowCount); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan sync_meta", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
