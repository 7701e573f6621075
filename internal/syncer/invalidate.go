package syncer

import (
	"context"
	"time"

	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Invalidator coalesces base-table changes into view refreshes. Marks
// within the debounce window collapse into one refresh per affected
// view, so a burst of feed events does not trigger a refetch storm.
type Invalidator struct {
	engine *Engine
	window time.Duration
	marks  chan string
}

// NewInvalidator creates an Invalidator over the engine's view sync.
func NewInvalidator(engine *Engine) *Invalidator {
	return &Invalidator{
		engine: engine,
		window: engine.cfg.DebounceWindow,
		marks:  make(chan string, 256),
	}
}

// MarkDirty schedules a refresh of every view depending on table. Safe
// to call from any goroutine; never blocks (an overflowing mark is
// dropped, the next mark for the same table re-arms the refresh).
func (inv *Invalidator) MarkDirty(table string) {
	select {
	case inv.marks <- table:
	default:
		logging.Warn("View invalidation mark dropped", map[string]interface{}{
			"table": table,
		})
	}
}

// Run consumes marks until ctx is cancelled. Pending marks are flushed
// once the debounce window passes with the set of dirty tables resolved
// to their dependent views.
func (inv *Invalidator) Run(ctx context.Context) {
	dirty := make(map[string]bool)
	timer := time.NewTimer(inv.window)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			if armed && !timer.Stop() {
				<-timer.C
			}
			return

		case table := <-inv.marks:
			dirty[table] = true
			if !armed {
				timer.Reset(inv.window)
				armed = true
			}

		case <-timer.C:
			armed = false
			views := dependentViews(dirty)
			dirty = make(map[string]bool)
			if len(views) == 0 {
				continue
			}
			if err := inv.engine.SyncViews(ctx, views...); err != nil {
				logging.Error("Debounced view refresh failed", err, map[string]interface{}{
					"views": views,
				})
			}
		}
	}
}

// dependentViews resolves a set of dirty base tables to the deduplicated
// list of views that must be refetched.
func dependentViews(dirty map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for table := range dirty {
		for _, v := range store.ViewsDependingOn(table) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
