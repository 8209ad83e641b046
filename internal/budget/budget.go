// Package budget implements a sliding-window call budget for the outbound
// social API. It is optimistic, local accounting: a safety margin kept
// strictly below the provider's real ceiling, not a replacement for the
// provider's own enforcement. The API wrapper's typed rate-limit errors
// remain the authoritative backstop.
//
// The contract deliberately splits checking from charging:
//
//   - Allow() reports whether one more call fits in the trailing window
//   - Record() charges the window, called right after a call was made
//
// so a denied or failed call never consumes budget. Token-bucket limiters
// (golang.org/x/time/rate) and combined check-and-consume sliding windows
// merge the two steps, which is why this window is its own small type.
package budget

import (
	"sync"
	"time"
)

// Window counts calls in a trailing time window. Safe for concurrent use:
// the loop is single-threaded but the ops server snapshots budget state
// from its own goroutines.
type Window struct {
	capacity int
	window   time.Duration

	mu    sync.Mutex
	calls []time.Time

	// nowFn is a test seam; defaults to time.Now.
	nowFn func() time.Time
}

// NewWindow returns a budget allowing capacity calls per window duration.
// A capacity below 1 is coerced to 1.
func NewWindow(capacity int, window time.Duration) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		window:   window,
		nowFn:    time.Now,
	}
}

// Allow reports whether a new call may be made right now without exceeding
// the capacity for the trailing window. It does not charge the budget.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFn())
	return len(w.calls) < w.capacity
}

// Record charges one call against the window. Call it immediately after
// every external call that counts against the budget, whether or not the
// call succeeded at the application level (the provider counted it).
func (w *Window) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.nowFn()
	w.prune(now)
	w.calls = append(w.calls, now)
}

// Remaining returns how many calls are still available in the current
// window. Used by the ops status snapshot.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFn())
	if n := w.capacity - len(w.calls); n > 0 {
		return n
	}
	return 0
}

// Used returns the number of calls currently charged against the window.
func (w *Window) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFn())
	return len(w.calls)
}

// prune drops timestamps that have aged out of the window. Caller holds mu.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
