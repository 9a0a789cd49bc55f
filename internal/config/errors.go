package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and Config.ProbeTargets()
// so that callers can use errors.Is() to react to a specific problem.
var (
	// ErrNoTarget is returned when no proxy was given on the command line or in the config file.
	ErrNoTarget = errors.New("no target specified: provide host:port or list proxies in the config file")

	// ErrInvalidTimeout is returned when the probe timeout is negative.
	// Zero is allowed and makes every probe time out immediately.
	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidQueueBounds is returned when a queue bound is not positive.
	ErrInvalidQueueBounds = errors.New("invalid queue bounds: max concurrent, max throughput and window must be positive")

	// ErrInvalidFormat is returned for an unknown report format.
	ErrInvalidFormat = errors.New("invalid report format: must be json, markdown or simple")

	// ErrInvalidRateLimit is returned when the server rate limit is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrInvalidSubdomainCount is returned when the DNS leak subdomain count is not positive.
	ErrInvalidSubdomainCount = errors.New("invalid dns leak subdomain count: must be positive")
)
