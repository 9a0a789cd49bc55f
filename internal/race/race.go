package race

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "deadline exceeded" }

// Timeout marks the error as a timeout for net.Error style checks.
func (timeoutError) Timeout() bool { return true }

// ErrTimeout is returned by Run when the deadline elapses first.
var ErrTimeout error = timeoutError{}

// PanicError wraps a value recovered from a panicking operation.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes op and returns its result, or ErrTimeout if deadline elapses first.
// A zero deadline races op against an already expired timer, and a negative
// deadline disables the timer. Cancellation of ctx always ends the wait with
// ctx.Err().
//
// The context passed to op is cancelled when Run returns. A panic inside op is
// recovered and returned as *PanicError.
func Run[T any](ctx context.Context, deadline time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the losing goroutine can always deliver and exit.
	done := make(chan outcome[T], 1)
	go func() {
		var out outcome[T]
		defer func() {
			if r := recover(); r != nil {
				out = outcome[T]{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
			done <- out
		}()
		out.value, out.err = op(opCtx)
	}()

	var timeout <-chan time.Time
	if deadline >= 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeout = timer.C
	}

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-timeout:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
