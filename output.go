package golin

import (
	"io"
	"sync"
	"sync/atomic"
)

// OutputQueue is an io.Writer that hands every write to a background
// goroutine. Write never blocks so it is safe from interrupt context, a
// full queue drops the write and counts it.
type OutputQueue struct {
	out     io.Writer
	ch      chan []byte
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewOutputQueue(out io.Writer, size int) *OutputQueue {
	if size <= 0 {
		size = 64
	}
	q := &OutputQueue{
		out:  out,
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *OutputQueue) run() {
	defer close(q.done)
	for p := range q.ch {
		q.out.Write(p)
	}
}

func (q *OutputQueue) Write(p []byte) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0, io.ErrClosedPipe
	}
	select {
	case q.ch <- append([]byte(nil), p...):
	default:
		q.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped returns the number of writes lost to a full queue.
func (q *OutputQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting writes and waits until the queued ones are written.
func (q *OutputQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
	return nil
}
