// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/uplens/uplens/internal/core"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan core.RunRequest
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan core.RunRequest, capacity),
	}
}

// Enqueue pushes a run request into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req core.RunRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next run request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (core.RunRequest, error) {
	select {
	case <-ctx.Done():
		return core.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return core.RunRequest{}, errors.New("queue closed")
		}
		return req, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
