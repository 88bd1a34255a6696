// Package queue serializes operations per backend identity.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Queue keeps one pending-operation chain per backend identity. An operation
// starts only after the previous operation on the same chain has settled, so
// backend calls happen in submission order. Chains never wait on each other.
type Queue struct {
	mu     sync.Mutex
	chains map[string]*chain
}

type chain struct {
	tail    chan struct{}
	pending int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{chains: make(map[string]*chain)}
}

// Pending returns the number of operations submitted to key that have not settled.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.chains[key]; ok {
		return c.pending
	}
	return 0
}

// enqueue appends a slot to key's chain. It returns a channel closed when the
// previous slot settles and a function that settles this slot.
func (q *Queue) enqueue(key string) (<-chan struct{}, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.chains[key]
	if !ok {
		c = &chain{}
		q.chains[key] = c
	}

	prev := c.tail
	done := make(chan struct{})
	c.tail = done
	c.pending++

	settle := func() {
		q.mu.Lock()
		c.pending--
		if c.tail == done {
			delete(q.chains, key)
		}
		q.mu.Unlock()
		close(done)
	}
	return prev, settle
}

// Do runs op on key's chain and returns its own result. A failing or panicking
// operation does not affect later operations on the chain.
func Do[T any](ctx context.Context, q *Queue, key string, op func(ctx context.Context) (T, error)) (result T, err error) {
	prev, settle := q.enqueue(key)
	defer settle()

	if prev != nil {
		<-prev
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation on %s panicked: %v", key, r)
		}
	}()
	return op(ctx)
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, q *Queue, key string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, q, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
