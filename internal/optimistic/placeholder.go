// Package optimistic implements the optimistic write layer: user
// mutations are applied to the local store immediately under a negative
// placeholder identity and a write intent is enqueued in the same
// transaction, so the UI reflects the result before any network call.
package optimistic

import "sync/atomic"

// placeholderCounter is process-wide and strictly decreasing. Backend
// primary keys are positive, so placeholder ids never collide with
// confirmed ids. The counter restarts at -1 on process start; because
// the outbox is durable, NewWriter seeds it below any placeholder still
// persisted from a previous run.
var placeholderCounter atomic.Int64

// PlaceholderID returns the next placeholder id: -1, -2, -3, …
func PlaceholderID() int64 {
	return placeholderCounter.Add(-1)
}

// seedPlaceholderFloor lowers the counter to floor if it is currently
// above it, so fresh ids stay below every persisted placeholder.
func seedPlaceholderFloor(floor int64) {
	for {
		cur := placeholderCounter.Load()
		if cur <= floor {
			return
		}
		if placeholderCounter.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// IsPlaceholder reports whether id is a locally generated placeholder.
func IsPlaceholder(id int64) bool {
	return id < 0
}
