package recovery

import (
	"context"
	"sync"
	"time"
)

// RetryFunc re-runs the operation that failed.
type RetryFunc func(ctx context.Context) error

// ErrorRecord is an immutable audit entry for one failure.
type ErrorRecord struct {
	ID       string
	Time     time.Time
	Category Category
	Origin   string // phase or resource name
	Err      error
	Online   bool

	key   string
	retry RetryFunc
}

// Replayable reports whether the record carries a retry function.
func (r ErrorRecord) Replayable() bool { return r.retry != nil }

// Ring is a bounded FIFO of [ErrorRecord]; the oldest entry is pruned on overflow.
type Ring struct {
	mu    sync.Mutex
	buf   []ErrorRecord
	start int
	n     int
}

// NewRing creates a ring holding at most size records.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]ErrorRecord, max(size, 1))}
}

func (r *Ring) Add(rec ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = rec
		r.n++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns the records oldest first.
func (r *Ring) Snapshot() []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ErrorRecord, 0, r.n)
	for i := range r.n {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// Since returns records of category c newer than t, oldest first.
func (r *Ring) Since(c Category, t time.Time) []ErrorRecord {
	var out []ErrorRecord
	for _, rec := range r.Snapshot() {
		if rec.Category == c && rec.Time.After(t) {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
