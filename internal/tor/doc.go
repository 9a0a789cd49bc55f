// Package tor runs an embedded Tor daemon so its SOCKS5 port can be checked
// like any other proxy, and verifies that a SOCKS5 endpoint is ready.
//
// The daemon is managed by the tornago library. Bootstrapping takes one to
// three minutes, so callers should start it once and reuse the target for
// every check.
package tor
