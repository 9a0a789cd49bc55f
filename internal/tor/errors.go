package tor

import "errors"

var (
	// ErrNotRunning is returned when the embedded daemon has not been started.
	ErrNotRunning = errors.New("embedded Tor daemon is not running")

	// ErrInvalidSocksAddress is returned when a SOCKS address is not "host:port".
	ErrInvalidSocksAddress = errors.New("invalid SOCKS address format: expected host:port")
)
