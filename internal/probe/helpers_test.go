package probe

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// newFakeProxy starts an HTTP server that answers absolute-URI proxy requests
// with handler and returns a target pointing at it.
func newFakeProxy(t *testing.T, handler http.HandlerFunc) model.ProbeTarget {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return targetForURL(t, srv.URL)
}

func targetForURL(t *testing.T, rawURL string) model.ProbeTarget {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}
	return model.ProbeTarget{
		Host:    u.Hostname(),
		Port:    uint16(port),
		Scheme:  model.SchemeHTTP,
		Timeout: 5 * time.Second,
	}
}

// rawProxy is a TCP listener whose connections are handled by a test function.
type rawProxy struct {
	ln     net.Listener
	closed chan struct{}
	once   sync.Once
}

// newRawProxy accepts a single connection, reads the CONNECT request head,
// and passes the connection to respond.
func newRawProxy(t *testing.T, respond func(conn net.Conn)) (*rawProxy, model.ProbeTarget) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	p := &rawProxy{ln: ln, closed: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		respond(conn)

		// Wait for the prober to close its side.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				break
			}
		}
		p.once.Do(func() { close(p.closed) })
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	return p, model.ProbeTarget{Host: "127.0.0.1", Port: uint16(port), Scheme: model.SchemeHTTP, Timeout: 5 * time.Second}
}

// waitClosed fails the test if the prober never closed the connection.
func (p *rawProxy) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(3 * time.Second):
		t.Error("prober did not close the proxy connection")
	}
}

// fakeResolver records lookups instead of touching DNS.
type fakeResolver struct {
	mu    sync.Mutex
	hosts []string
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (f *fakeResolver) lookups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hosts...)
}
