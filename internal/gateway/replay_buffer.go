package gateway

import (
	"sync"

	"autotrader/internal/ringbuf"
)

type replayEntry struct {
	seq      int64
	envelope []byte
}

// ReplayBuffer holds recent envelopes for one channel, queried by sequence
// range when a client reports a gap. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a buffer holding at least the last capacity
// envelopes (rounded up to a power of two).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores a copy of envelope, evicting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, envelope []byte) {
	cp := append([]byte(nil), envelope...)

	rb.mu.Lock()
	rb.ring.Push(replayEntry{seq: seq, envelope: cp})
	rb.mu.Unlock()
}

// Range returns envelopes with fromSeq <= seq <= toSeq, oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	rb.ring.Each(func(e replayEntry) bool {
		if e.seq > toSeq {
			return false
		}
		if e.seq >= fromSeq {
			out = append(out, e.envelope)
		}
		return true
	})
	return out
}

// Len returns the number of envelopes held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
