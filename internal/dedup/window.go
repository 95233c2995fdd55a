package dedup

import "sync"

// DefaultCapacity bounds the number of remembered keys.
const DefaultCapacity = 10_000

// Window is a bounded set of seen keys (transaction signatures).
// When the capacity is exceeded the oldest half is evicted in one step, so
// the set never grows past capacity+1 and eviction is not strictly LRU.
type Window struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string // insertion order
	evicted  uint64
}

// NewWindow creates a dedup window. capacity <= 0 selects DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Seen records key and reports whether it had already been recorded.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return true
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)

	if len(w.order) > w.capacity {
		drop := len(w.order) / 2
		for _, k := range w.order[:drop] {
			delete(w.seen, k)
		}
		w.order = append(w.order[:0:0], w.order[drop:]...)
		w.evicted += uint64(drop)
	}
	return false
}

// Len returns the number of keys currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

// Evicted returns how many keys have been dropped so far.
func (w *Window) Evicted() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.evicted
}
