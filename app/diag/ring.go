package diag

import (
	"sync"
	"time"
)

const DefaultCapacity = 200

type Event struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	OK         bool      `json:"ok"`
	DurationMs int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
}

// Ring is a bounded, append-only event log. Once full, the oldest event is
// dropped. Recording never panics: diagnostics must not be able to take
// down the request path they observe.
type Ring struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	start    int
	count    int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		events:   make([]Event, capacity),
	}
}

func (r *Ring) Record(event Event) {
	defer func() {
		// A diagnostics failure is dropped, never propagated
		_ = recover()
	}()

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index := (r.start + r.count) % r.capacity
	r.events[index] = event

	if r.count < r.capacity {
		r.count++
	} else {
		r.start = (r.start + 1) % r.capacity
	}
}

// Recent returns up to limit events, newest first.
func (r *Ring) Recent(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}

	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		index := (r.start + r.count - 1 - i) % r.capacity
		out = append(out, r.events[index])
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
