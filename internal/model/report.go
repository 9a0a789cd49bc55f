package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// AggregateReport holds every requested probe result for one proxy.
// It is built once by the engine and must not be modified afterwards.
type AggregateReport struct {
	// Proxy is the proxy identity in "host:port" form.
	Proxy string

	// CheckedAt is when the engine started the invocation.
	CheckedAt time.Time

	// Elapsed is the wall time of the whole invocation.
	Elapsed time.Duration

	// Kinds is the requested probe order.
	Kinds []ProbeKind

	// Results has exactly one entry per requested kind.
	Results map[ProbeKind]ProbeResult

	// Errors lists the failed probes in requested order.
	Errors []*ProbeError
}

// NewAggregateReport builds a report from the per-kind results.
// Errors are collected in the order of kinds.
func NewAggregateReport(proxy string, kinds []ProbeKind, results map[ProbeKind]ProbeResult) *AggregateReport {
	kinds = UniqueKinds(kinds)
	r := &AggregateReport{
		Proxy:   proxy,
		Kinds:   kinds,
		Results: make(map[ProbeKind]ProbeResult, len(kinds)),
		Errors:  make([]*ProbeError, 0),
	}
	for _, k := range kinds {
		res, ok := results[k]
		if !ok {
			res = Failed(NewProbeError(k, ErrorUpstreamUnavailable, "probe produced no result"))
		}
		r.Results[k] = res
		if res.Err != nil {
			r.Errors = append(r.Errors, res.Err)
		}
	}
	return r
}

// Result returns the result of one probe kind.
func (r *AggregateReport) Result(kind ProbeKind) (ProbeResult, bool) {
	res, ok := r.Results[kind]
	return res, ok
}

// Succeeded reports whether at least one probe produced data.
func (r *AggregateReport) Succeeded() bool {
	for _, res := range r.Results {
		if res.OK() {
			return true
		}
	}
	return false
}

// Anonymity returns the anonymity result, or nil when it was not requested or failed.
func (r *AggregateReport) Anonymity() *AnonymityResult {
	v, _ := r.Results[KindAnonymity].Value.(*AnonymityResult)
	return v
}

// HTTPS returns the HTTPS result, or nil when it was not requested or failed.
func (r *AggregateReport) HTTPS() *HTTPSResult {
	v, _ := r.Results[KindHTTPS].Value.(*HTTPSResult)
	return v
}

// Content returns the content-integrity result, or nil when it was not requested or failed.
func (r *AggregateReport) Content() *ContentResult {
	v, _ := r.Results[KindContent].Value.(*ContentResult)
	return v
}

// DNSLeak returns the DNS-leak result, or nil when it was not requested or failed.
func (r *AggregateReport) DNSLeak() *DNSLeakResult {
	v, _ := r.Results[KindDNSLeak].Value.(*DNSLeakResult)
	return v
}

// Location returns the location result, or nil when it was not requested or failed.
func (r *AggregateReport) Location() *LocationResult {
	v, _ := r.Results[KindLocation].Value.(*LocationResult)
	return v
}

// Sites returns the site-support result, or nil when it was not requested or failed.
func (r *AggregateReport) Sites() *SitesResult {
	v, _ := r.Results[KindSites].Value.(*SitesResult)
	return v
}

// MarshalJSON encodes the report as an object with "proxy", "checked_at",
// one key per requested kind in requested order, and "errors".
func (r *AggregateReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	if err := writeField("proxy", r.Proxy); err != nil {
		return nil, err
	}
	if !r.CheckedAt.IsZero() {
		if err := writeField("checked_at", r.CheckedAt.UTC()); err != nil {
			return nil, err
		}
	}
	for _, k := range r.Kinds {
		if err := writeField(string(k), r.Results[k]); err != nil {
			return nil, err
		}
	}
	errs := r.Errors
	if errs == nil {
		errs = []*ProbeError{}
	}
	if err := writeField("errors", errs); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ProxyPerformance is the historical success ratio of a proxy.
type ProxyPerformance struct {
	Proxy        string    `json:"proxy"`
	CheckCount   int       `json:"check_count"`
	SuccessCount int       `json:"success_count"`
	Uptime       float64   `json:"uptime"`
	LastChecked  time.Time `json:"last_checked,omitempty"`
}

// NewProxyPerformance computes uptime as the percentage of successful checks.
func NewProxyPerformance(proxy string, checks, successes int, last time.Time) ProxyPerformance {
	p := ProxyPerformance{
		Proxy:        proxy,
		CheckCount:   checks,
		SuccessCount: successes,
		LastChecked:  last,
	}
	if checks > 0 {
		p.Uptime = float64(successes) / float64(checks) * 100
	}
	return p
}
