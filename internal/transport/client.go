package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
	"golang.org/x/net/proxy"
)

// defaultDialTimeout bounds the TCP connect to the proxy when the caller's
// context carries no deadline of its own.
const defaultDialTimeout = 30 * time.Second

// maxRedirects is the redirect limit for clients that follow redirects.
const maxRedirects = 10

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/42.0.2311.135 Safari/537.36 Edge/12.246",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:80.0) Gecko/20100101 Firefox/80.0",
	"Mozilla/5.0 (X11; CrOS x86_64 8172.45.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/51.0.2704.64 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_2) AppleWebKit/601.3.9 (KHTML, like Gecko) Version/9.0.2 Safari/601.3.9",
	"Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/47.0.2526.111 Safari/537.36",
}

// DefaultUserAgents returns a copy of the built-in browser user agents.
func DefaultUserAgents() []string {
	return append([]string(nil), defaultUserAgents...)
}

// DefaultHeaders returns the headers sent with every proxied request.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html",
		"Accept-Language": "en-US",
		"Referer":         "http://www.google.com/",
	}
}

// Client routes connections through one proxy.
// It is safe for concurrent use; it holds no mutable state.
type Client struct {
	target     model.ProbeTarget
	dialer     proxy.Dialer
	userAgents []string
	headers    map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgents sets the user agents to pick from.
// An empty list disables the User-Agent override.
func WithUserAgents(agents []string) Option {
	return func(c *Client) {
		c.userAgents = append([]string(nil), agents...)
	}
}

// NewClient creates a Client for the target.
// It validates the address but does not contact the proxy.
func NewClient(target model.ProbeTarget, opts ...Option) (*Client, error) {
	if err := ValidateAddress(target.Address()); err != nil {
		return nil, err
	}

	c := &Client{
		target:     target,
		dialer:     proxy.Direct,
		userAgents: DefaultUserAgents(),
		headers:    DefaultHeaders(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if target.Scheme == model.SchemeSOCKS5 {
		var auth *proxy.Auth
		if target.Credentials != nil && target.Credentials.Username != "" {
			auth = &proxy.Auth{User: target.Credentials.Username, Password: target.Credentials.Password}
		}
		d, err := proxy.SOCKS5("tcp", target.Address(), auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		c.dialer = d
	}
	return c, nil
}

// ValidateAddress checks that address is "host:port" with a non-empty host
// and a port in 1-65535.
func ValidateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return ErrInvalidProxyAddress
	}
	n := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return ErrInvalidProxyAddress
		}
		n = n*10 + int(c-'0')
		if n > 65535 {
			return ErrInvalidProxyAddress
		}
	}
	if n < 1 {
		return ErrInvalidProxyAddress
	}
	return nil
}

// Target returns the proxy target this client routes through.
func (c *Client) Target() model.ProbeTarget {
	return c.target
}

// UserAgent picks one of the configured user agents.
func (c *Client) UserAgent() string {
	if len(c.userAgents) == 0 {
		return ""
	}
	return c.userAgents[rand.IntN(len(c.userAgents))] //nolint:gosec // not security sensitive
}

// ProxyAuthorization returns the Proxy-Authorization header value for
// HTTP proxies with credentials, or an empty string.
func (c *Client) ProxyAuthorization() string {
	cred := c.target.Credentials
	if cred == nil || cred.Username == "" {
		return ""
	}
	token := base64.StdEncoding.EncodeToString([]byte(cred.Username + ":" + cred.Password))
	return "Basic " + token
}

// HTTPClient returns an HTTP client whose requests all go through the proxy.
// When followRedirects is false, 3xx responses are returned to the caller as-is.
func (c *Client) HTTPClient(followRedirects bool) *http.Client {
	transport := &http.Transport{
		DisableKeepAlives:   true,
		DisableCompression:  true,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	switch c.target.Scheme {
	case model.SchemeSOCKS5:
		transport.DialContext = c.DialThrough
	default:
		transport.Proxy = http.ProxyURL(c.target.ProxyURL())
	}

	client := &http.Client{
		Transport: &headerInjectingTransport{
			base:    transport,
			pickUA:  c.UserAgent,
			headers: c.headers,
		},
	}
	if followRedirects {
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// DialProxy opens a raw TCP connection to the proxy itself.
func (c *Client) DialProxy(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: defaultDialTimeout}
	return d.DialContext(ctx, "tcp", c.target.Address())
}

// DialThrough opens a connection to address tunnelled through a SOCKS5 proxy.
// For HTTP proxies it dials address directly, which is only useful in tests.
func (c *Client) DialThrough(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := c.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// headerInjectingTransport sets the user agent and fixed headers on every request.
type headerInjectingTransport struct {
	base    http.RoundTripper
	pickUA  func() string
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	for key, value := range t.headers {
		if clone.Header.Get(key) == "" {
			clone.Header.Set(key, value)
		}
	}
	if ua := t.pickUA(); ua != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", ua)
	}
	if strings.EqualFold(clone.URL.Scheme, "http") || strings.EqualFold(clone.URL.Scheme, "https") {
		return t.base.RoundTrip(clone)
	}
	return nil, fmt.Errorf("unsupported URL scheme %q", clone.URL.Scheme)
}

// NewDirectHTTPClient returns a client that does not use any proxy.
// It is used for lookups that must reflect the caller's own network path,
// such as resolving the caller's public IP.
func NewDirectHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:             nil,
			DisableKeepAlives: true,
		},
	}
}
