package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is implemented by every successful probe outcome.
type Result interface {
	ProbeKind() ProbeKind
}

// Anonymity is the anonymity tier of a proxy.
type Anonymity int

const (
	// AnonymityUnknown means the tier could not be determined,
	// for example because the caller's public IP was not resolved.
	AnonymityUnknown Anonymity = iota

	// AnonymityElite means the proxy sent no identifying headers at all.
	AnonymityElite

	// AnonymityAnonymous means the proxy revealed itself but not the caller's IP.
	AnonymityAnonymous

	// AnonymityTransparent means the proxy forwarded the caller's IP.
	AnonymityTransparent
)

// String returns the wire name of the tier.
func (a Anonymity) String() string {
	switch a {
	case AnonymityElite:
		return "elite"
	case AnonymityAnonymous:
		return "anonymous"
	case AnonymityTransparent:
		return "transparent"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Anonymity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// AnonymityResult is the outcome of the anonymity probe.
type AnonymityResult struct {
	Anonymity Anonymity `json:"anonymity"`

	// FlaggedHeaders lists the identifying headers the judge received, sorted.
	FlaggedHeaders []string `json:"flagged_headers"`

	// LeakingHeaders is the subset of FlaggedHeaders carrying the public IP.
	LeakingHeaders []string `json:"leaking_headers,omitempty"`

	JudgeResponseMillis int64 `json:"judge_response_ms"`
}

// ProbeKind implements Result.
func (*AnonymityResult) ProbeKind() ProbeKind { return KindAnonymity }

// HTTPSResult is the outcome of the HTTPS CONNECT probe.
type HTTPSResult struct {
	// Supported is nil when the proxy closed the connection without answering.
	Supported *bool `json:"supported"`

	// StatusCode is the CONNECT response status, zero when none was parsed.
	StatusCode int `json:"connect_status_code,omitempty"`

	// StatusLine is the raw first line of the CONNECT response.
	StatusLine string `json:"status_line,omitempty"`

	// Hint explains non-2xx codes, e.g. that 407 means authentication is required.
	Hint string `json:"hint,omitempty"`

	ResponseMillis int64 `json:"response_ms"`
}

// ProbeKind implements Result.
func (*HTTPSResult) ProbeKind() ProbeKind { return KindHTTPS }

// Signal is a kind of suspicious content injected by a proxy.
type Signal uint16

// Suspicious content signals raised by the content-integrity probe.
const (
	SignalScript Signal = 1 << iota
	SignalIframe
	SignalAd
	SignalTracker
	SignalMiner
	SignalRedirect
	SignalEventHandler
	SignalEncodedContent
)

var signalNames = []struct {
	signal Signal
	name   string
}{
	{SignalScript, "script"},
	{SignalIframe, "iframe"},
	{SignalAd, "ad"},
	{SignalTracker, "tracker"},
	{SignalMiner, "miner"},
	{SignalRedirect, "redirect"},
	{SignalEventHandler, "event_handler"},
	{SignalEncodedContent, "encoded_content"},
}

// String returns the wire name of a single signal.
func (s Signal) String() string {
	for _, n := range signalNames {
		if n.signal == s {
			return n.name
		}
	}
	return fmt.Sprintf("signal(%d)", uint16(s))
}

// SignalSet is a set of Signals. The zero value is empty.
type SignalSet uint16

// Add adds a signal to the set.
func (s *SignalSet) Add(sig Signal) {
	*s |= SignalSet(sig)
}

// Has reports whether the signal is in the set.
func (s SignalSet) Has(sig Signal) bool {
	return s&SignalSet(sig) != 0
}

// Empty reports whether no signal is set.
func (s SignalSet) Empty() bool {
	return s == 0
}

// Signals returns the members of the set in a stable order.
func (s SignalSet) Signals() []Signal {
	out := make([]Signal, 0, len(signalNames))
	for _, n := range signalNames {
		if s.Has(n.signal) {
			out = append(out, n.signal)
		}
	}
	return out
}

// String returns the members joined by commas.
func (s SignalSet) String() string {
	sigs := s.Signals()
	names := make([]string, len(sigs))
	for i, sig := range sigs {
		names[i] = sig.String()
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the set as an array of signal names.
func (s SignalSet) MarshalJSON() ([]byte, error) {
	sigs := s.Signals()
	names := make([]string, len(sigs))
	for i, sig := range sigs {
		names[i] = sig.String()
	}
	return json.Marshal(names)
}

// ContentResult is the outcome of the content-integrity probe.
type ContentResult struct {
	Changed bool `json:"changed"`

	Signals SignalSet `json:"suspicious_signals"`

	// ChangedLines holds the 1-based line numbers that differ from the expected page.
	ChangedLines []int `json:"changed_lines,omitempty"`

	StatusCode int `json:"status_code"`

	// Digest is the hex SHA3-256 of the received body.
	Digest string `json:"sha3_256"`
}

// ProbeKind implements Result.
func (*ContentResult) ProbeKind() ProbeKind { return KindContent }

// DNSServerInfo describes a resolver seen by the DNS leak-test service.
type DNSServerInfo struct {
	IP          string `json:"ip"`
	Country     string `json:"country,omitempty"`
	CountryName string `json:"country_name,omitempty"`
	ASN         string `json:"asn,omitempty"`
}

// DNSLeakResult is the outcome of the DNS-leak probe.
type DNSLeakResult struct {
	// LeakDetected is nil when the verdict is inconclusive.
	LeakDetected *bool `json:"leak_detected"`

	// Servers lists the resolvers in the order the service reported them.
	Servers []DNSServerInfo `json:"dns_servers"`

	// ExitIP is the address the service saw the report request come from.
	ExitIP string `json:"exit_ip,omitempty"`

	Conclusion string `json:"conclusion,omitempty"`
}

// ProbeKind implements Result.
func (*DNSLeakResult) ProbeKind() ProbeKind { return KindDNSLeak }

// LocationResult is the geolocation of the proxy host.
type LocationResult struct {
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Zip         string  `json:"zip,omitempty"`
	Latitude    float64 `json:"lat,omitempty"`
	Longitude   float64 `json:"lon,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	ISP         string  `json:"isp,omitempty"`

	// Source is "geoip" for the offline database or "ip-api" for the web service.
	Source string `json:"source"`
}

// ProbeKind implements Result.
func (*LocationResult) ProbeKind() ProbeKind { return KindLocation }

// SiteStatus is the reachability of one site through the proxy.
type SiteStatus struct {
	URL            string `json:"url"`
	Reachable      bool   `json:"reachable"`
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
	ResponseMillis int64  `json:"response_ms"`
}

// SitesResult is the outcome of the site-support probe.
type SitesResult struct {
	Sites []SiteStatus `json:"sites"`
}

// ProbeKind implements Result.
func (*SitesResult) ProbeKind() ProbeKind { return KindSites }

// ProbeResult is either a populated Result or exactly one ProbeError.
type ProbeResult struct {
	Kind  ProbeKind
	Value Result
	Err   *ProbeError
}

// Succeeded builds a successful ProbeResult.
func Succeeded(v Result) ProbeResult {
	return ProbeResult{Kind: v.ProbeKind(), Value: v}
}

// Failed builds a failed ProbeResult.
func Failed(err *ProbeError) ProbeResult {
	return ProbeResult{Kind: err.Probe, Err: err}
}

// OK reports whether the probe produced data.
func (r ProbeResult) OK() bool {
	return r.Err == nil && r.Value != nil
}

// MarshalJSON encodes the result value, or {"error": ...} when the probe failed.
func (r ProbeResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(struct {
			Error *ProbeError `json:"error"`
		}{r.Err})
	}
	if r.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}
