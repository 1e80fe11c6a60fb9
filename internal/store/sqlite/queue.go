package sqlite

import (
	"context"
	"errors"
	"sync"

	"autotrader/internal/model"
)

// ErrQueueClosed is returned by WriteBars after Close.
var ErrQueueClosed = errors.New("sqlite: bar queue closed")

// Queue hands bars to a Writer.Run loop so callers never wait on a commit.
// It satisfies model.BarWriter.
type Queue struct {
	mu     sync.RWMutex
	ch     chan model.Bar
	closed bool
}

// NewQueue creates a queue buffering up to size bars.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan model.Bar, size)}
}

// C is the channel to pass to Writer.Run.
func (q *Queue) C() <-chan model.Bar { return q.ch }

// WriteBars enqueues bars, blocking while the buffer is full.
func (q *Queue) WriteBars(ctx context.Context, bars []model.Bar) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, b := range bars {
		select {
		case q.ch <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops the Run loop once the queue drains. It waits for in-flight
// WriteBars calls, so the Run loop must still be draining.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
