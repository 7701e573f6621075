package store

import (
	"sync"

	"github.com/dadinugroho/robshop-core/internal/logging"
)

// ChangeOp classifies a committed write.
type ChangeOp int

const (
	// OpPut is a single-record upsert.
	OpPut ChangeOp = iota
	// OpDelete is a single-record removal.
	OpDelete
	// OpBulk is a bulk write or table clear; ID is not meaningful.
	OpBulk
)

// ChangeNotice describes one committed write to a watched table.
type ChangeNotice struct {
	Table string
	Op    ChangeOp
	ID    int64
}

type watcher struct {
	tables map[string]bool // nil means all tables
	fn     func(ChangeNotice)
}

// watchHub fans committed-write notifications out to registered
// watchers. Callbacks run synchronously on the committing goroutine, so
// a reader that re-queries from its callback never observes pre-commit
// state.
type watchHub struct {
	mu       sync.RWMutex
	nextID   int64
	watchers map[int64]*watcher
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[int64]*watcher)}
}

func (h *watchHub) add(w *watcher) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.watchers[id] = w
	return id
}

func (h *watchHub) remove(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers, id)
}

func (h *watchHub) notify(notes []ChangeNotice) {
	if len(notes) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, n := range notes {
		for _, w := range h.watchers {
			if w.tables == nil || w.tables[n.Table] {
				w.fn(n)
			}
		}
	}
}

// WatchFunc registers fn to run synchronously after every committed
// write to one of the given tables (all tables when none are given).
// The returned cancel func unregisters it.
func (s *Store) WatchFunc(fn func(ChangeNotice), tables ...string) func() {
	w := &watcher{fn: fn}
	if len(tables) > 0 {
		w.tables = make(map[string]bool, len(tables))
		for _, t := range tables {
			w.tables[t] = true
		}
	}
	id := s.hub.add(w)
	return func() { s.hub.remove(id) }
}

// Subscription delivers change notices over a channel for consumers
// that poll from their own goroutine (UI read hooks, view refresh).
type Subscription struct {
	C      chan ChangeNotice
	cancel func()
	once   sync.Once
}

// Watch returns a channel-based subscription over the given tables.
// Delivery is best-effort: if the subscriber falls behind, notices are
// dropped with a warning rather than blocking the writer.
func (s *Store) Watch(tables ...string) *Subscription {
	sub := &Subscription{C: make(chan ChangeNotice, 64)}
	sub.cancel = s.WatchFunc(func(n ChangeNotice) {
		select {
		case sub.C <- n:
		default:
			logging.Warn("Watch subscriber lagging, dropping notice", map[string]interface{}{
				"table": n.Table,
			})
		}
	}, tables...)
	return sub
}

// Close unregisters the subscription and closes its channel.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.cancel()
		close(sub.C)
	})
}
