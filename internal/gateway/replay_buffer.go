package gateway

import "sync"

type replayEntry struct {
	seq  int64
	data []byte
}

// ReplayBuffer is a fixed-size ring of recent envelopes for one channel.
// Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	next    int
	count   int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.next] = replayEntry{seq: seq, data: cp}
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
}

// Range returns the envelopes with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	start := (rb.next - rb.count + len(rb.entries)) % len(rb.entries)
	for i := 0; i < rb.count; i++ {
		e := rb.entries[(start+i)%len(rb.entries)]
		if e.seq >= fromSeq && e.seq <= toSeq {
			out = append(out, e.data)
		}
	}
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
