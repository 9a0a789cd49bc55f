package model

import (
	"fmt"
	"strings"
)

// ProbeKind names one independent check that can be run against a proxy.
type ProbeKind string

const (
	// KindAnonymity classifies whether the proxy reveals the caller's IP.
	KindAnonymity ProbeKind = "anonymity"

	// KindHTTPS checks whether the proxy accepts HTTP CONNECT tunnels.
	KindHTTPS ProbeKind = "https"

	// KindContent checks whether the proxy tampers with a fixed test page.
	KindContent ProbeKind = "content"

	// KindDNSLeak checks whether DNS lookups bypass the proxy.
	KindDNSLeak ProbeKind = "dnsleak"

	// KindLocation geolocates the proxy host.
	KindLocation ProbeKind = "location"

	// KindSites checks which configured sites are reachable through the proxy.
	KindSites ProbeKind = "sites"
)

// String returns the wire name of the kind.
func (k ProbeKind) String() string {
	return string(k)
}

// AllKinds returns every supported probe kind in canonical order.
func AllKinds() []ProbeKind {
	return []ProbeKind{KindAnonymity, KindHTTPS, KindContent, KindDNSLeak, KindLocation, KindSites}
}

// EssentialKinds returns the probes run by the essential check:
// anonymity, HTTPS support, and location.
func EssentialKinds() []ProbeKind {
	return []ProbeKind{KindAnonymity, KindHTTPS, KindLocation}
}

// ParseKind parses a single probe kind name (case-insensitive).
func ParseKind(s string) (ProbeKind, error) {
	k := ProbeKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProbeKind, s)
}

// ParseKinds parses a comma-separated list of probe kinds.
// Duplicates are dropped and the first occurrence keeps its position.
// The words "all" and "everything" select every kind; an empty list selects
// the essential kinds.
func ParseKinds(csv string) ([]ProbeKind, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return EssentialKinds(), nil
	}

	seen := make(map[ProbeKind]bool)
	kinds := make([]ProbeKind, 0, len(AllKinds()))
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch strings.ToLower(part) {
		case "all", "everything":
			return AllKinds(), nil
		}
		k, err := ParseKind(part)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return EssentialKinds(), nil
	}
	return kinds, nil
}

// UniqueKinds returns kinds without repeats, keeping first-occurrence order.
func UniqueKinds(kinds []ProbeKind) []ProbeKind {
	seen := make(map[ProbeKind]bool, len(kinds))
	out := make([]ProbeKind, 0, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// NeedsPublicIP reports whether any of the kinds consumes the caller's public IP.
func NeedsPublicIP(kinds []ProbeKind) bool {
	for _, k := range kinds {
		if k == KindAnonymity {
			return true
		}
	}
	return false
}
