package server

import "errors"

var (
	// ErrInvalidHost is returned for a host that is not a dotted-quad IPv4 address.
	ErrInvalidHost = errors.New("bad ip address")

	// ErrInvalidTimeout is returned for a timeout that is not a non-negative integer.
	ErrInvalidTimeout = errors.New("invalid timeout value")

	// ErrHistoryDisabled is returned by /performance when no history store is configured.
	ErrHistoryDisabled = errors.New("check history is disabled")
)
