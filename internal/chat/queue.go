package chat

import (
	"context"
	"sync"
)

// queue serializes work per conversation. Each caller takes a ticket that
// closes when it is done; the next caller waits on it. Conversations do not
// block each other.
type queue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newQueue() *queue {
	return &queue{tails: make(map[string]chan struct{})}
}

// acquire waits for every earlier caller on key and returns the release
// func. If ctx ends while waiting, the ticket is handed on once the
// predecessor finishes so the chain stays intact.
func (q *queue) acquire(ctx context.Context, key string) (func(), error) {
	q.mu.Lock()
	prev := q.tails[key]
	ticket := make(chan struct{})
	q.tails[key] = ticket
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		if q.tails[key] == ticket {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(ticket)
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// pending reports whether key has a caller in flight.
func (q *queue) pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tails[key]
	return ok
}
