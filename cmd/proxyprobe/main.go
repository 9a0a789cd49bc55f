// Package main provides the entry point for the proxyprobe CLI.
//
// proxyprobe checks HTTP and SOCKS5 proxies for anonymity, HTTPS support,
// content tampering and DNS leaks, and can serve the same checks over HTTP.
//
// Usage:
//
//	proxyprobe check <host:port> [...]
//	proxyprobe serve
//	proxyprobe judge
//
// See --help for all available options.
package main

// main is the entry point for proxyprobe.
func main() {
	Execute()
}
