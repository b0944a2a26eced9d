package client

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO of events. Enqueue never blocks, so callbacks
// running on the event loop may post new events.
type queue struct {
	mu    sync.Mutex
	items []event
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) Enqueue(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an event is available or ctx is done.
func (q *queue) Dequeue(ctx context.Context) (event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
