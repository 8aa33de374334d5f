package stream

import "sync"

type entry struct {
	Seq  int64
	Data []byte // encoded envelope
}

// Backlog is a fixed-size circular buffer of recent envelopes, so a client
// that reconnects with the last sequence it saw can catch up.
type Backlog struct {
	mu   sync.RWMutex
	buf  []entry
	pos  int // next write position
	full bool
}

// NewBacklog creates a backlog holding capacity envelopes.
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = 500
	}
	return &Backlog{buf: make([]entry, capacity)}
}

// Push appends an envelope, overwriting the oldest when full.
func (b *Backlog) Push(seq int64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf[b.pos] = entry{Seq: seq, Data: data}
	b.pos = (b.pos + 1) % len(b.buf)
	if b.pos == 0 {
		b.full = true
	}
}

// Since returns the envelopes with sequence greater than seq, oldest first.
// gap is true when envelopes after seq were already overwritten.
func (b *Backlog) Since(seq int64) (out [][]byte, gap bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.len()
	for i := 0; i < n; i++ {
		e := b.buf[b.index(i)]
		if i == 0 && e.Seq > seq+1 {
			gap = true
		}
		if e.Seq > seq {
			out = append(out, e.Data)
		}
	}
	return out, gap
}

// Len returns the number of envelopes held.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.len()
}

func (b *Backlog) len() int {
	if b.full {
		return len(b.buf)
	}
	return b.pos
}

// index converts a logical index (0 = oldest) to a buffer index.
func (b *Backlog) index(logical int) int {
	if b.full {
		return (b.pos + logical) % len(b.buf)
	}
	return logical
}
