package queue

import (
	"context"

	"github.com/google/uuid"
)

// Handle is the caller's view of one submitted unit.
type Handle[T any] struct {
	id    uuid.UUID
	done  chan struct{}
	value T
	err   error
}

func newHandle[T any](id uuid.UUID) *Handle[T] {
	return &Handle[T]{id: id, done: make(chan struct{})}
}

// resolve is called exactly once per handle by the queue.
func (h *Handle[T]) resolve(value T, err error) {
	h.value = value
	h.err = err
	close(h.done)
}

// ID returns the unique id of the queue entry.
func (h *Handle[T]) ID() uuid.UUID {
	return h.id
}

// Done is closed when the unit has resolved.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the unit resolves or ctx ends. Ending ctx only stops
// waiting; the unit keeps its place in the queue.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
