// Package probe implements the independent checks run against a single proxy.
//
// Each probe is a method on Prober taking a context and an immutable
// model.ProbeTarget, and returning either a typed result or an error. Probes
// share no mutable state: the only cross-probe input is the caller's public
// IP, which the engine resolves once and places on the target before any
// probe starts.
//
// The probes are:
//   - Anonymity: fetches a header-echo "judge" through the proxy and looks for
//     identifying headers, classifying the proxy as elite, anonymous or transparent
//   - HTTPS: sends a raw CONNECT request and parses the status line
//   - Content: fetches a fixed test page and scans changed lines for injected code
//   - DNSLeak: resolves unique subdomains and asks a leak-test service which
//     resolvers it saw
//   - Location: geolocates the proxy host
//   - Sites: checks which configured sites are reachable through the proxy
package probe
