package queue

import "errors"

var (
	// ErrQueueClosed is returned for units submitted to, or still pending in,
	// a queue that has been shut down.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrUnitPanicked wraps the value recovered from a panicking unit of work.
	ErrUnitPanicked = errors.New("unit of work panicked")
)
