// Package ringbuf provides a fixed-capacity, overwrite-oldest ring buffer for
// model.Candle. It is the backing storage of the candle store: appends never
// fail, and once the buffer is full each append evicts the oldest candle.
//
// A Ring is not safe for concurrent use; callers serialize access.
package ringbuf

import (
	"sync/atomic"

	"trading-enginev1/internal/model"
)

// Ring is a bounded, insertion-ordered candle buffer.
type Ring struct {
	buf   []model.Candle
	head  int // next write position
	count int

	// Eviction counter (atomic, for metrics)
	evicted atomic.Uint64
}

// New creates a ring holding at most capacity candles. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Candle, capacity)}
}

// Append adds a candle, evicting the oldest one if the ring is full.
// Returns true if an eviction happened.
func (r *Ring) Append(c model.Candle) bool {
	evicted := r.count == len(r.buf)
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	if evicted {
		r.evicted.Add(1)
	} else {
		r.count++
	}
	return evicted
}

// Last returns the most recently appended candle.
func (r *Ring) Last() (model.Candle, bool) {
	if r.count == 0 {
		return model.Candle{}, false
	}
	idx := (r.head - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Window returns a copy of the newest n candles, oldest first.
// n <= 0 or n > Len() returns every stored candle.
func (r *Ring) Window(n int) []model.Candle {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]model.Candle, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the current number of candles in the ring.
func (r *Ring) Len() int {
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Evicted returns the total number of candles dropped to make room.
func (r *Ring) Evicted() uint64 {
	return r.evicted.Load()
}
