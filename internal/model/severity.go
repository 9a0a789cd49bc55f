package model

import (
	"fmt"
	"sort"
	"strings"
)

// Severity represents how badly a finding undermines the proxy's trustworthiness.
type Severity int

const (
	// SeverityInfo indicates informational findings, such as a probe that could not run.
	SeverityInfo Severity = iota

	// SeverityLow indicates minor issues, such as a proxy that announces itself.
	SeverityLow

	// SeverityMedium indicates issues that limit usefulness, such as missing HTTPS support
	// or injected advertising.
	SeverityMedium

	// SeverityHigh indicates issues that expose the user, such as DNS leaks,
	// trackers, or redirects to another origin.
	SeverityHigh

	// SeverityCritical indicates the proxy forwards the real IP or injects executable code.
	SeverityCritical
)

// String returns a human-readable representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// FindingInfo contains metadata about a finding type.
type FindingInfo struct {
	Severity       Severity
	Impact         string
	Recommendation string
}

// Finding is one noteworthy observation derived from an AggregateReport.
type Finding struct {
	Type     string   `json:"type"`
	Severity Severity `json:"-"`
	Detail   string   `json:"detail"`
}

var findingInfoMapping = map[string]FindingInfo{
	"transparent_proxy": {
		Severity:       SeverityCritical,
		Impact:         "The proxy forwards your real IP address to every site you visit.",
		Recommendation: "Do not use this proxy for anything requiring privacy.",
	},
	"script_injected": {
		Severity:       SeverityCritical,
		Impact:         "The proxy injects executable script into pages.",
		Recommendation: "Stop using the proxy; injected script can steal credentials.",
	},
	"miner_injected": {
		Severity:       SeverityCritical,
		Impact:         "The proxy injects cryptocurrency mining code.",
		Recommendation: "Stop using the proxy.",
	},
	"dns_leak": {
		Severity:       SeverityHigh,
		Impact:         "DNS lookups bypass the proxy and reveal your resolver.",
		Recommendation: "Use remote DNS resolution (socks5h) or a different proxy.",
	},
	"tracker_injected": {
		Severity:       SeverityHigh,
		Impact:         "The proxy injects third-party tracking code.",
		Recommendation: "Avoid the proxy for browsing.",
	},
	"redirect_injected": {
		Severity:       SeverityHigh,
		Impact:         "The proxy redirects requests to another origin.",
		Recommendation: "Avoid the proxy; redirects enable phishing.",
	},
	"iframe_injected": {
		Severity:       SeverityHigh,
		Impact:         "The proxy embeds foreign frames into pages.",
		Recommendation: "Avoid the proxy for browsing.",
	},
	"content_modified": {
		Severity:       SeverityMedium,
		Impact:         "The proxy modifies page content in transit.",
		Recommendation: "Only use the proxy for HTTPS traffic.",
	},
	"ad_injected": {
		Severity:       SeverityMedium,
		Impact:         "The proxy injects advertising into pages.",
		Recommendation: "Only use the proxy for HTTPS traffic.",
	},
	"https_unsupported": {
		Severity:       SeverityMedium,
		Impact:         "The proxy refuses CONNECT tunnels, so HTTPS sites cannot be used.",
		Recommendation: "Use the proxy only for plain HTTP or pick another proxy.",
	},
	"anonymous_proxy": {
		Severity:       SeverityLow,
		Impact:         "The proxy hides your IP but announces that a proxy is in use.",
		Recommendation: "Acceptable for most uses; prefer an elite proxy if detection matters.",
	},
	"probe_failed": {
		Severity:       SeverityInfo,
		Impact:         "A probe could not complete, so part of the picture is missing.",
		Recommendation: "Re-run the check with a longer timeout.",
	},
}

// GetSeverity returns the severity level for a finding type.
// Returns SeverityInfo if the finding type is not in the mapping.
func GetSeverity(findingType string) Severity {
	if info, ok := findingInfoMapping[findingType]; ok {
		return info.Severity
	}
	return SeverityInfo
}

// GetFindingInfo returns the full finding information for a finding type.
func GetFindingInfo(findingType string) FindingInfo {
	if info, ok := findingInfoMapping[findingType]; ok {
		return info
	}
	return FindingInfo{
		Severity:       SeverityInfo,
		Impact:         "Unknown finding type. Review manually.",
		Recommendation: "Investigate the finding and assess risk.",
	}
}

// Findings derives the noteworthy observations from a report,
// ordered by descending severity.
func Findings(r *AggregateReport) []Finding {
	var out []Finding
	add := func(typ, detail string) {
		out = append(out, Finding{Type: typ, Severity: GetSeverity(typ), Detail: detail})
	}

	if a := r.Anonymity(); a != nil {
		switch a.Anonymity {
		case AnonymityTransparent:
			add("transparent_proxy", "leaking headers: "+strings.Join(a.LeakingHeaders, ", "))
		case AnonymityAnonymous:
			add("anonymous_proxy", "flagged headers: "+strings.Join(a.FlaggedHeaders, ", "))
		}
	}

	if h := r.HTTPS(); h != nil && h.Supported != nil && !*h.Supported {
		add("https_unsupported", fmt.Sprintf("CONNECT answered %d", h.StatusCode))
	}

	if c := r.Content(); c != nil && c.Changed {
		add("content_modified", fmt.Sprintf("%d line(s) differ", len(c.ChangedLines)))
		signalFindings := []struct {
			sig Signal
			typ string
		}{
			{SignalScript, "script_injected"},
			{SignalEventHandler, "script_injected"},
			{SignalEncodedContent, "script_injected"},
			{SignalMiner, "miner_injected"},
			{SignalTracker, "tracker_injected"},
			{SignalRedirect, "redirect_injected"},
			{SignalIframe, "iframe_injected"},
			{SignalAd, "ad_injected"},
		}
		seen := make(map[string]bool)
		for _, sf := range signalFindings {
			if c.Signals.Has(sf.sig) && !seen[sf.typ] {
				seen[sf.typ] = true
				add(sf.typ, "signal: "+sf.sig.String())
			}
		}
	}

	if d := r.DNSLeak(); d != nil && d.LeakDetected != nil && *d.LeakDetected {
		add("dns_leak", fmt.Sprintf("%d resolver(s) seen", len(d.Servers)))
	}

	for _, e := range r.Errors {
		add("probe_failed", e.Error())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity > out[j].Severity
	})
	return out
}
