package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/nao1215/proxyprobe/internal/model"
	"golang.org/x/sync/errgroup"
)

// Leak-test service verdicts, matched exactly.
const (
	conclusionLeaking    = "DNS may be leaking."
	conclusionNotLeaking = "DNS is not leaking."
)

// defaultLeakSubdomains is how many subdomains are registered per check.
const defaultLeakSubdomains = 10

// HostResolver resolves host names without going through the proxy.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type netResolver struct{}

func (netResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// DNSLeak registers unique subdomains of the leak-test domain with the local
// resolver, then fetches the leak-test report through the proxy and maps the
// service's own verdict.
func (p *Prober) DNSLeak(ctx context.Context, target model.ProbeTarget) (*model.DNSLeakResult, error) {
	if p.env.DNSLeakDomain == "" || p.env.DNSLeakReportURL == "" {
		return nil, model.ErrNotConfigured
	}

	token := newLeakToken()
	p.registerSubdomains(ctx, LeakSubdomains(token, p.env.DNSLeakDomain, p.env.DNSLeakSubdomains))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reportURL := strings.ReplaceAll(p.env.DNSLeakReportURL, "{token}", token)
	resp, body, err := p.get(ctx, target, reportURL, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.StatusError{Code: resp.StatusCode, URL: reportURL}
	}

	res, err := InterpretLeakReport(body)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("dns leak probe finished",
		"proxy", target.Address(),
		"servers", len(res.Servers),
		"conclusion", res.Conclusion)
	return res, nil
}

// LeakSubdomains builds "<i>.<token>.<domain>" for i in [0, n).
func LeakSubdomains(token, domain string, n int) []string {
	if n <= 0 {
		n = defaultLeakSubdomains
	}
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("%d.%s.%s", i, token, domain)
	}
	return out
}

// registerSubdomains resolves every host; lookup failures are expected since
// the leak-test service only needs to see the queries.
func (p *Prober) registerSubdomains(ctx context.Context, hosts []string) {
	var g errgroup.Group
	for _, h := range hosts {
		g.Go(func() error {
			if _, err := p.resolver.LookupHost(ctx, h); err != nil {
				p.logger.Debug("leak subdomain lookup failed", "host", h, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func newLeakToken() string {
	return strconv.Itoa(rand.IntN(9000000) + 1000000) //nolint:gosec // not security sensitive
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type leakRecord struct {
	IP          flexString `json:"ip"`
	Country     flexString `json:"country"`
	CountryName flexString `json:"country_name"`
	ASN         flexString `json:"asn"`
	Type        string     `json:"type"`
}

// InterpretLeakReport parses a leak-test report: a JSON array of records with
// type "ip" (the address the service saw the request from), "dns" (a resolver
// that queried the test subdomains) or "conclusion" (verdict text in "ip").
//
// Zero resolvers, or a conclusion that matches no known verdict, leaves
// LeakDetected nil.
func InterpretLeakReport(body []byte) (*model.DNSLeakResult, error) {
	var records []leakRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: leak report: %w", model.ErrMalformed, err)
	}

	res := &model.DNSLeakResult{Servers: []model.DNSServerInfo{}}
	for _, r := range records {
		switch r.Type {
		case "ip":
			res.ExitIP = string(r.IP)
		case "dns":
			res.Servers = append(res.Servers, model.DNSServerInfo{
				IP:          string(r.IP),
				Country:     string(r.Country),
				CountryName: string(r.CountryName),
				ASN:         string(r.ASN),
			})
		case "conclusion":
			res.Conclusion = string(r.IP)
		}
	}

	if len(res.Servers) == 0 {
		return res, nil
	}
	switch res.Conclusion {
	case conclusionLeaking:
		leak := true
		res.LeakDetected = &leak
	case conclusionNotLeaking:
		leak := false
		res.LeakDetected = &leak
	}
	return res, nil
}
