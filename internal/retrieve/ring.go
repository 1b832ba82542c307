package retrieve

import (
	"sync"
	"time"
)

// Turn is one conversation entry held in short-term memory.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// Ring is a fixed-size conversation buffer with oldest-overwrite semantics.
type Ring struct {
	mu    sync.Mutex
	turns []Turn
	next  int
	count int
}

// NewRing creates a ring holding the last n turns.
func NewRing(n int) *Ring {
	if n <= 0 {
		n = 8
	}
	return &Ring{turns: make([]Turn, n)}
}

// Push appends a turn, overwriting the oldest when full.
func (r *Ring) Push(t Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[r.next] = t
	r.next = (r.next + 1) % len(r.turns)
	if r.count < len(r.turns) {
		r.count++
	}
}

// Recent returns retained turns oldest-first.
func (r *Ring) Recent() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Turn, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.turns)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.turns[(start+i)%len(r.turns)])
	}
	return out
}

// Len returns the number of retained turns.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
