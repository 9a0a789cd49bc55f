package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/transport"
)

// PublicIPResolver discovers the caller's own public IP address.
type PublicIPResolver interface {
	PublicIP(ctx context.Context) (string, error)
}

// HTTPPublicIPResolver asks an IP echo service directly, without any proxy.
type HTTPPublicIPResolver struct {
	url    string
	client *http.Client
}

// NewPublicIPResolver creates a resolver for an echo URL such as
// "https://api.ipify.org?format=json" or a judge's "/clientip" endpoint.
func NewPublicIPResolver(url string, timeout time.Duration) *HTTPPublicIPResolver {
	return &HTTPPublicIPResolver{url: url, client: transport.NewDirectHTTPClient(timeout)}
}

// PublicIP implements PublicIPResolver.
func (r *HTTPPublicIPResolver) PublicIP(ctx context.Context) (string, error) {
	if r.url == "" {
		return "", model.ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &model.StatusError{Code: resp.StatusCode, URL: r.url}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return ParsePublicIP(body)
}

// ParsePublicIP extracts an IP from an echo service body. JSON objects with
// "ip", "clientip" or "origin" keys and bare text bodies are accepted.
func ParsePublicIP(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	candidate := string(body)

	if len(body) > 0 && body[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", fmt.Errorf("%w: public IP body: %w", model.ErrMalformed, err)
		}
		candidate = ""
		for _, key := range []string{"ip", "clientip", "origin"} {
			if s, ok := obj[key].(string); ok && s != "" {
				candidate = s
				break
			}
		}
	}

	// httpbin reports "client, proxy" chains in origin.
	if i := strings.IndexByte(candidate, ','); i >= 0 {
		candidate = candidate[:i]
	}
	candidate = strings.TrimSpace(candidate)
	if net.ParseIP(candidate) == nil {
		return "", fmt.Errorf("%w: no IP address in %q", model.ErrMalformed, string(body))
	}
	return candidate, nil
}

// CachingResolver memoizes a successful lookup for a fixed TTL.
// Failures are not cached.
type CachingResolver struct {
	base PublicIPResolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	ip      string
	expires time.Time
}

// NewCachingResolver wraps base with a cache.
func NewCachingResolver(base PublicIPResolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{base: base, ttl: ttl, now: time.Now}
}

// PublicIP implements PublicIPResolver.
func (c *CachingResolver) PublicIP(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.ip != "" && c.now().Before(c.expires) {
		ip := c.ip
		c.mu.Unlock()
		return ip, nil
	}
	c.mu.Unlock()

	ip, err := c.base.PublicIP(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.ip = ip
	c.expires = c.now().Add(c.ttl)
	c.mu.Unlock()
	return ip, nil
}
