// Package transport builds network clients that reach the Internet through
// the proxy under test.
//
// A Client is created per ProbeTarget. It hands out HTTP clients whose every
// request is routed through the proxy (HTTP forward proxy or SOCKS5), raw TCP
// connections to the proxy itself for CONNECT probing, and tunnelled
// connections for SOCKS5 targets. Every outgoing request carries a browser
// user agent picked from a read-only list plus a fixed set of request headers.
//
// Connections are never reused between requests: each probe must observe the
// proxy's behavior on a fresh connection.
package transport
