package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/engine"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/probe"
	"github.com/nao1215/proxyprobe/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEngine returns an engine whose probes succeed immediately and count calls.
func testEngine(calls *atomic.Int64) *engine.Engine {
	supported := true
	count := func(r model.Result) probe.Func {
		return func(context.Context, model.ProbeTarget) (model.Result, error) {
			calls.Add(1)
			return r, nil
		}
	}
	return engine.New(map[model.ProbeKind]probe.Func{
		model.KindAnonymity: count(&model.AnonymityResult{Anonymity: model.AnonymityElite}),
		model.KindHTTPS:     count(&model.HTTPSResult{Supported: &supported, StatusCode: 200}),
		model.KindLocation:  count(&model.LocationResult{CountryCode: "DE", Source: "geoip"}),
		model.KindContent:   count(&model.ContentResult{Digest: "abc"}),
		model.KindDNSLeak:   count(&model.DNSLeakResult{Servers: []model.DNSServerInfo{}}),
		model.KindSites:     count(&model.SitesResult{}),
	}, engine.WithLogger(discardLogger()))
}

type stubHistory struct {
	mu    sync.Mutex
	saved []*model.AggregateReport
	perf  *model.ProxyPerformance
	err   error
}

func (s *stubHistory) SaveReport(_ context.Context, r *model.AggregateReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	return nil
}

func (s *stubHistory) GetPerformance(context.Context, string) (*model.ProxyPerformance, error) {
	return s.perf, s.err
}

func (s *stubHistory) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a JSON object: %v\n%s", err, rec.Body.String())
	}
	return out
}

// TestHealthAndIndex tests the endpoints that do not probe.
func TestHealthAndIndex(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	h := New(testEngine(&calls), WithLogger(discardLogger())).Handler()

	rec := get(t, h, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d", rec.Code)
	}
	if _, ok := decode(t, rec)["hello"]; !ok {
		t.Error("expected welcome message")
	}
	if calls.Load() != 0 {
		t.Errorf("probes called %d times, want 0", calls.Load())
	}
}

// TestParameterValidation tests that bad parameters are rejected before probing.
func TestParameterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing host", query: "/checkessential?port=8080"},
		{name: "hostname", query: "/checkessential?host=example.com&port=8080"},
		{name: "ipv6", query: "/checkessential?host=::1&port=8080"},
		{name: "octet out of range", query: "/checkessential?host=256.1.1.1&port=8080"},
		{name: "port too large", query: "/checkcontent?host=192.0.2.1&port=70000"},
		{name: "port not a number", query: "/checkdnsleak?host=192.0.2.1&port=http"},
		{name: "negative timeout", query: "/everything?host=192.0.2.1&port=8080&timeout=-1"},
		{name: "bad to", query: "/everything?host=192.0.2.1&port=8080&to=soon"},
		{name: "bad scheme", query: "/check?host=192.0.2.1&port=8080&scheme=ftp"},
		{name: "unknown probe", query: "/check?host=192.0.2.1&port=8080&probes=bogus"},
		{name: "index with bad host", query: "/?host=nope&port=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int64
			h := New(testEngine(&calls), WithLogger(discardLogger()), WithRateLimit(0, 0)).Handler()
			rec := get(t, h, tt.query)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if _, ok := decode(t, rec)["error"]; !ok {
				t.Error("expected error field")
			}
			if calls.Load() != 0 {
				t.Errorf("probes called %d times, want 0", calls.Load())
			}
		})
	}
}

// TestCheckUnavailableProbe tests that a probe missing from the engine is rejected.
func TestCheckUnavailableProbe(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := engine.New(nil,
		engine.WithLogger(discardLogger()),
		engine.WithProbe(model.KindAnonymity, func(context.Context, model.ProbeTarget) (model.Result, error) {
			calls.Add(1)
			return &model.AnonymityResult{Anonymity: model.AnonymityElite}, nil
		}),
	)
	h := New(e, WithLogger(discardLogger()), WithRateLimit(0, 0)).Handler()

	rec := get(t, h, "/check?host=192.0.2.1&port=8080&probes=anonymity,location")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if msg := string(decode(t, rec)["error"]); !strings.Contains(msg, "location") {
		t.Errorf("error = %s, want mention of location", msg)
	}
	if calls.Load() != 0 {
		t.Errorf("probes called %d times, want 0", calls.Load())
	}

	rec = get(t, h, "/check?host=192.0.2.1&port=8080&probes=anonymity")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if calls.Load() != 1 {
		t.Errorf("probes called %d times, want 1", calls.Load())
	}
}

// TestCheckEndpoints tests that each route runs its probe set.
func TestCheckEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want []model.ProbeKind
	}{
		{path: "/", want: model.EssentialKinds()},
		{path: "/checkessential", want: model.EssentialKinds()},
		{path: "/checkcontent", want: []model.ProbeKind{model.KindContent}},
		{path: "/checkdnsleak", want: []model.ProbeKind{model.KindDNSLeak}},
		{path: "/everything", want: model.AllKinds()},
		{path: "/check?probes=https,sites&", want: []model.ProbeKind{model.KindHTTPS, model.KindSites}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int64
			history := &stubHistory{}
			h := New(testEngine(&calls), WithLogger(discardLogger()), WithHistory(history)).Handler()

			sep := "?"
			if strings.Contains(tt.path, "?") {
				sep = ""
			}
			rec := get(t, h, tt.path+sep+"host=192.0.2.10&port=8080&to=2000")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}

			body := decode(t, rec)
			var proxy string
			if err := json.Unmarshal(body["proxy"], &proxy); err != nil || proxy != "192.0.2.10:8080" {
				t.Errorf("proxy = %s", body["proxy"])
			}
			for _, k := range tt.want {
				if _, ok := body[string(k)]; !ok {
					t.Errorf("missing %s result", k)
				}
			}
			if string(body["errors"]) != "[]" {
				t.Errorf("errors = %s, want []", body["errors"])
			}
			if _, ok := body["findings"]; !ok {
				t.Error("expected findings")
			}
			if int(calls.Load()) != len(tt.want) {
				t.Errorf("probes called %d times, want %d", calls.Load(), len(tt.want))
			}
			if history.count() != 1 {
				t.Errorf("saved %d reports, want 1", history.count())
			}
		})
	}
}

// TestCheckQueueClosed tests that a failed unit of work answers 500.
func TestCheckQueueClosed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	s := New(testEngine(&calls), WithLogger(discardLogger()))
	if err := s.Queue().Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec := get(t, s.Handler(), "/checkessential?host=192.0.2.10&port=8080")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != queue.ErrQueueClosed.Error() || body["proxy"] != "192.0.2.10:8080" {
		t.Errorf("unexpected body: %v", body)
	}
}

// TestStatus tests the queue statistics endpoint.
func TestStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	q := queue.New[*model.AggregateReport](queue.WithMaxConcurrent(7))
	s := New(testEngine(&calls), WithLogger(discardLogger()), WithQueue(q))
	h := s.Handler()

	if rec := get(t, h, "/checkcontent?host=192.0.2.10&port=8080"); rec.Code != http.StatusOK {
		t.Fatalf("check status = %d", rec.Code)
	}

	rec := get(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats queue.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7", stats.MaxConcurrent)
	}
	if stats.Submitted != 1 || stats.Completed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// TestPerformance tests the history lookup endpoint.
func TestPerformance(t *testing.T) {
	t.Parallel()

	const query = "/performance?host=192.0.2.10&port=8080"
	perf := model.NewProxyPerformance("192.0.2.10:8080", 4, 3, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	tests := []struct {
		name    string
		history HistoryStore
		want    int
	}{
		{name: "disabled", history: nil, want: http.StatusServiceUnavailable},
		{name: "not checked", history: &stubHistory{}, want: http.StatusNotFound},
		{name: "store error", history: &stubHistory{err: errors.New("disk")}, want: http.StatusInternalServerError},
		{name: "found", history: &stubHistory{perf: &perf}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int64
			opts := []Option{WithLogger(discardLogger())}
			if tt.history != nil {
				opts = append(opts, WithHistory(tt.history))
			}
			rec := get(t, New(testEngine(&calls), opts...).Handler(), query)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var got model.ProxyPerformance
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.Uptime != 75 || got.CheckCount != 4 {
				t.Errorf("unexpected performance: %+v", got)
			}
		})
	}
}

// TestRateLimit tests the per-client limiter.
func TestRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	h := New(testEngine(&calls), WithLogger(discardLogger()), WithRateLimit(0.001, 1)).Handler()

	if rec := get(t, h, "/"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := get(t, h, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Other clients and the health check are unaffected.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.20:1234"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Errorf("other client status = %d", other.Code)
	}
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

// TestIPLimiterSweep tests that idle clients are forgotten.
func TestIPLimiterSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.allow("192.0.2.1")
	now = now.Add(limiterIdleTTL + 2*time.Minute)
	l.allow("192.0.2.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients["192.0.2.1"]; ok {
		t.Error("expected idle client to be swept")
	}
	if len(l.clients) != 1 {
		t.Errorf("clients = %d, want 1", len(l.clients))
	}
}

// TestServeShutdown tests that cancelling the context stops the server.
func TestServeShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int64
	s := New(testEngine(&calls), WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln)
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
