package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Sentinel errors shared by the probe packages.
var (
	// ErrInvalidTarget is returned when a proxy address cannot be parsed.
	ErrInvalidTarget = errors.New("invalid proxy target")

	// ErrInvalidPort is returned when a port is not an integer in 0-65535.
	ErrInvalidPort = errors.New("invalid port: must be an integer between 0 and 65535")

	// ErrUnsupportedScheme is returned for proxy schemes other than http and socks5.
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

	// ErrUnknownProbeKind is returned when a probe name is not recognized.
	ErrUnknownProbeKind = errors.New("unknown probe kind")

	// ErrMalformed marks a response body that could not be parsed.
	ErrMalformed = errors.New("malformed response")

	// ErrNotConfigured marks a probe whose external dependency has no endpoint configured.
	ErrNotConfigured = errors.New("probe dependency not configured")

	// ErrUpstream marks a probe dependency that answered but could not serve the request.
	ErrUpstream = errors.New("probe dependency unavailable")
)

// ErrorKind classifies why a probe failed.
type ErrorKind int

const (
	// ErrorTimeout means the probe did not finish before its deadline.
	ErrorTimeout ErrorKind = iota

	// ErrorConnectionFailed means the proxy could not be reached or refused the tunnel.
	ErrorConnectionFailed

	// ErrorBadStatusCode means an upstream endpoint answered with an unexpected status.
	ErrorBadStatusCode

	// ErrorMalformedResponse means a body could not be parsed.
	ErrorMalformedResponse

	// ErrorSocketError means the transport failed after the connection was established.
	ErrorSocketError

	// ErrorUpstreamUnavailable means a probe dependency (judge, test page,
	// leak-test service) was unreachable or not configured.
	ErrorUpstreamUnavailable
)

// String returns the wire name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorTimeout:
		return "timeout"
	case ErrorConnectionFailed:
		return "connection_failed"
	case ErrorBadStatusCode:
		return "bad_status_code"
	case ErrorMalformedResponse:
		return "malformed_response"
	case ErrorSocketError:
		return "socket_error"
	case ErrorUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for c := ErrorTimeout; c <= ErrorUpstreamUnavailable; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// ProbeError is the typed failure of a single probe.
type ProbeError struct {
	// Probe is the kind of probe that failed.
	Probe ProbeKind `json:"probe"`

	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`

	// Detail is a human-readable description.
	Detail string `json:"detail"`

	// StatusCode is the offending HTTP status for ErrorBadStatusCode.
	StatusCode int `json:"status_code,omitempty"`
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s probe: %s", e.Probe, e.Kind)
	}
	return fmt.Sprintf("%s probe: %s: %s", e.Probe, e.Kind, e.Detail)
}

// NewProbeError creates a ProbeError.
func NewProbeError(probe ProbeKind, kind ErrorKind, detail string) *ProbeError {
	return &ProbeError{Probe: probe, Kind: kind, Detail: detail}
}

// StatusError reports an unexpected HTTP status from an upstream endpoint.
type StatusError struct {
	Code int
	URL  string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status %d %s from %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Classify converts an arbitrary probe error into a ProbeError attributed to probe.
// It returns nil for a nil error.
//
// A 502, 503 or 504 status is UpstreamUnavailable only for probes whose
// answer comes from a third-party service; for the others every unexpected
// status is BadStatusCode. A cancelled context is reported as Timeout because
// the probe was abandoned before the proxy answered.
func Classify(probe ProbeKind, err error) *ProbeError {
	if err == nil {
		return nil
	}

	var pe *ProbeError
	if errors.As(err, &pe) {
		out := *pe
		out.Probe = probe
		return &out
	}

	detail := err.Error()
	newErr := func(kind ErrorKind) *ProbeError {
		return NewProbeError(probe, kind, detail)
	}

	if isTimeout(err) || errors.Is(err, context.Canceled) {
		return newErr(ErrorTimeout)
	}

	var se *StatusError
	if errors.As(err, &se) {
		kind := ErrorBadStatusCode
		if usesUpstreamService(probe) {
			switch se.Code {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				kind = ErrorUpstreamUnavailable
			}
		}
		out := newErr(kind)
		out.StatusCode = se.Code
		return out
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.Is(err, ErrMalformed) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return newErr(ErrorMalformedResponse)
	}

	if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrUpstream) {
		return newErr(ErrorUpstreamUnavailable)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return newErr(ErrorConnectionFailed)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "proxyconnect", "socks connect":
			return newErr(ErrorConnectionFailed)
		}
		return newErr(ErrorSocketError)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) {
		return newErr(ErrorSocketError)
	}

	return newErr(ErrorConnectionFailed)
}

// usesUpstreamService reports whether probe depends on a third-party service
// whose gateway errors say nothing about the proxy.
func usesUpstreamService(probe ProbeKind) bool {
	switch probe {
	case KindContent, KindDNSLeak, KindLocation:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(interface{ Timeout() bool }); ok && t.Timeout() {
			return true
		}
	}
	return false
}
