// Package race bounds an operation with a deadline.
//
// Run resolves exactly once: either with the operation's own result or with
// ErrTimeout. The operation's context is cancelled as soon as Run returns so
// that operations holding cancellable resources (sockets, HTTP requests) can
// release them, but Run never waits for the losing operation to finish.
package race
