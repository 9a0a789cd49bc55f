package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/transport"
)

// maxBodySize caps how much of any response body a probe reads.
const maxBodySize = 1 << 20

// Env is the read-only configuration shared by all probes.
type Env struct {
	// JudgeURL is the header-echo endpoint fetched through the proxy.
	JudgeURL string

	// TestPageURL is the fixed-content page fetched through the proxy.
	// Empty disables the content probe.
	TestPageURL string

	// ExpectedContent is the exact body TestPageURL serves.
	ExpectedContent string

	// ConnectTarget is the host:port requested in the CONNECT probe.
	ConnectTarget string

	// DNSLeakDomain is the leak-test domain whose subdomains are resolved.
	DNSLeakDomain string

	// DNSLeakSubdomains is how many subdomains are resolved per check.
	DNSLeakSubdomains int

	// DNSLeakReportURL is the report endpoint; "{token}" is replaced by the session token.
	DNSLeakReportURL string

	// LocationURL is the geolocation endpoint; the proxy host is appended.
	LocationURL string

	// Sites are the URLs checked by the site-support probe.
	Sites []string

	// UserAgents are the browser user agents requests pick from.
	UserAgents []string

	// FlaggedHeaders are the headers that reveal a proxy or the client IP.
	FlaggedHeaders []string
}

// Func is the uniform signature the engine uses to run any probe.
type Func func(ctx context.Context, target model.ProbeTarget) (model.Result, error)

// Prober runs probes against proxies. It is safe for concurrent use.
type Prober struct {
	env      Env
	resolver HostResolver
	locator  Locator
	logger   *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithHostResolver replaces the resolver used to register DNS-leak subdomains.
func WithHostResolver(r HostResolver) Option {
	return func(p *Prober) {
		p.resolver = r
	}
}

// WithLocator sets an offline locator used instead of the web geolocation service.
func WithLocator(l Locator) Option {
	return func(p *Prober) {
		p.locator = l
	}
}

// NewProber creates a Prober.
func NewProber(env Env, opts ...Option) *Prober {
	if len(env.FlaggedHeaders) == 0 {
		env.FlaggedHeaders = DefaultFlaggedHeaders()
	}
	p := &Prober{
		env:      env,
		resolver: netResolver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Env returns the prober configuration.
func (p *Prober) Env() Env {
	return p.env
}

// Funcs returns every probe keyed by kind.
func (p *Prober) Funcs() map[model.ProbeKind]Func {
	return map[model.ProbeKind]Func{
		model.KindAnonymity: wrap(p.Anonymity),
		model.KindHTTPS:     wrap(p.HTTPS),
		model.KindContent:   wrap(p.Content),
		model.KindDNSLeak:   wrap(p.DNSLeak),
		model.KindLocation:  wrap(p.Location),
		model.KindSites:     wrap(p.Sites),
	}
}

// wrap adapts a typed probe method to Func, so that a nil typed pointer is
// never boxed into a non-nil interface.
func wrap[R model.Result](fn func(context.Context, model.ProbeTarget) (R, error)) Func {
	return func(ctx context.Context, target model.ProbeTarget) (model.Result, error) {
		r, err := fn(ctx, target)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (p *Prober) client(target model.ProbeTarget) (*transport.Client, error) {
	opts := []transport.Option{}
	if len(p.env.UserAgents) > 0 {
		opts = append(opts, transport.WithUserAgents(p.env.UserAgents))
	}
	return transport.NewClient(target, opts...)
}

// get fetches rawURL through the proxy and returns the status and body.
func (p *Prober) get(ctx context.Context, target model.ProbeTarget, rawURL string, followRedirects bool) (*http.Response, []byte, error) {
	c, err := p.client(target)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.HTTPClient(followRedirects).Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}
