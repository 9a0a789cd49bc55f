package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// targetFor builds a ProbeTarget that points at the given test server.
func targetFor(t *testing.T, rawURL string) model.ProbeTarget {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}
	return model.ProbeTarget{Host: u.Hostname(), Port: uint16(port), Scheme: model.SchemeHTTP, Timeout: 5 * time.Second}
}

// TestValidateAddress tests proxy address validation.
func TestValidateAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"ipv4", "127.0.0.1:8080", false},
		{"hostname", "localhost:3128", false},
		{"ipv6", "[::1]:1080", false},
		{"empty", "", true},
		{"no port", "127.0.0.1", true},
		{"empty host", ":8080", true},
		{"port zero", "127.0.0.1:0", true},
		{"port too large", "127.0.0.1:65536", true},
		{"non numeric port", "127.0.0.1:http", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateAddress(tc.address)
			if tc.wantErr && !errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("expected ErrInvalidProxyAddress for %q, got %v", tc.address, err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error for %q: %v", tc.address, err)
			}
		})
	}
}

// TestProxyAuthorization tests the Basic credential header.
func TestProxyAuthorization(t *testing.T) {
	t.Parallel()

	target := model.ProbeTarget{Host: "127.0.0.1", Port: 8080}
	c, err := NewClient(target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ProxyAuthorization() != "" {
		t.Error("expected no header without credentials")
	}

	target.Credentials = &model.Credentials{Username: "Aladdin", Password: "open sesame"}
	c, err = NewClient(target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.ProxyAuthorization(); got != "Basic QWxhZGRpbjpvcGVuIHNlc2FtZQ==" {
		t.Errorf("got %q", got)
	}
}

// TestHTTPClientRoutesThroughProxy tests that requests reach the proxy with
// absolute URIs and the injected headers.
func TestHTTPClientRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	type seen struct {
		requestURI string
		userAgent  string
		accept     string
		proxyAuth  string
	}
	seenCh := make(chan seen, 1)

	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCh <- seen{
			requestURI: r.RequestURI,
			userAgent:  r.Header.Get("User-Agent"),
			accept:     r.Header.Get("Accept"),
			proxyAuth:  r.Header.Get("Proxy-Authorization"),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer proxySrv.Close()

	target := targetFor(t, proxySrv.URL)
	target.Credentials = &model.Credentials{Username: "user", Password: "pass"}
	c, err := NewClient(target, WithUserAgents([]string{"probe-agent"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := c.HTTPClient(false).Get("http://judge.example/azenv")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	got := <-seenCh
	if got.requestURI != "http://judge.example/azenv" {
		t.Errorf("expected absolute request URI, got %q", got.requestURI)
	}
	if got.userAgent != "probe-agent" {
		t.Errorf("got user agent %q", got.userAgent)
	}
	if got.accept != "text/html" {
		t.Errorf("got accept %q", got.accept)
	}
	if got.proxyAuth == "" {
		t.Error("expected Proxy-Authorization to be sent")
	}
}

// TestHTTPClientRedirectPolicy tests that redirects are returned unfollowed on request.
func TestHTTPClientRedirectPolicy(t *testing.T) {
	t.Parallel()

	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "http://elsewhere.example/end", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer proxySrv.Close()

	c, err := NewClient(targetFor(t, proxySrv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := c.HTTPClient(false).Get("http://origin.example/start")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("got status %d, expected 302", resp.StatusCode)
	}

	resp, err = c.HTTPClient(true).Get("http://origin.example/start")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, expected 200 after following", resp.StatusCode)
	}
}

// TestDialProxy tests that DialProxy reaches the proxy address.
func TestDialProxy(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c, err := NewClient(model.ProbeTarget{Host: "127.0.0.1", Port: uint16(addr.Port)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := c.DialProxy(ctx)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close()
	<-accepted
}
