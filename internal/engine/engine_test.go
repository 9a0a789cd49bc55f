package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/probe"
)

// stubResolver returns a fixed public IP and counts lookups.
type stubResolver struct {
	ip    string
	err   error
	calls atomic.Int64
}

func (s *stubResolver) PublicIP(context.Context) (string, error) {
	s.calls.Add(1)
	return s.ip, s.err
}

func okProbe(r model.Result) probe.Func {
	return func(context.Context, model.ProbeTarget) (model.Result, error) {
		return r, nil
	}
}

func testTarget() model.ProbeTarget {
	return model.ProbeTarget{Host: "192.0.2.10", Port: 8080, Timeout: time.Second, Scheme: model.SchemeHTTP}
}

// TestEngineRun tests merging of successful and failing probes.
func TestEngineRun(t *testing.T) {
	t.Parallel()

	t.Run("every requested kind has exactly one entry", func(t *testing.T) {
		t.Parallel()

		e := New(map[model.ProbeKind]probe.Func{
			model.KindAnonymity: okProbe(&model.AnonymityResult{Anonymity: model.AnonymityElite}),
			model.KindHTTPS: func(context.Context, model.ProbeTarget) (model.Result, error) {
				return nil, &model.StatusError{Code: http.StatusBadGateway}
			},
			model.KindLocation: func(context.Context, model.ProbeTarget) (model.Result, error) {
				panic("broken probe")
			},
		})

		report := e.Run(context.Background(), testTarget(), model.EssentialKinds())

		if report.Proxy != "192.0.2.10:8080" {
			t.Errorf("Proxy = %q", report.Proxy)
		}
		if len(report.Results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(report.Results))
		}
		if got := report.Anonymity(); got == nil || got.Anonymity != model.AnonymityElite {
			t.Errorf("Anonymity() = %+v, want elite", got)
		}
		if len(report.Errors) != 2 {
			t.Fatalf("expected 2 errors, got %d: %v", len(report.Errors), report.Errors)
		}
		if report.Errors[0].Probe != model.KindHTTPS || report.Errors[0].Kind != model.ErrorBadStatusCode {
			t.Errorf("first error = %+v, want https bad_status_code", report.Errors[0])
		}
		if report.Errors[1].Probe != model.KindLocation {
			t.Errorf("second error = %+v, want location", report.Errors[1])
		}
		if !report.Succeeded() {
			t.Error("expected report to count as succeeded")
		}
	})

	t.Run("repeated kinds run once", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int64
		supported := true
		e := New(map[model.ProbeKind]probe.Func{
			model.KindHTTPS: func(context.Context, model.ProbeTarget) (model.Result, error) {
				calls.Add(1)
				return &model.HTTPSResult{Supported: &supported, StatusCode: 200}, nil
			},
			model.KindContent: okProbe(&model.ContentResult{Digest: "abc"}),
		})

		kinds := []model.ProbeKind{model.KindHTTPS, model.KindContent, model.KindHTTPS}
		report := e.Run(context.Background(), testTarget(), kinds)

		if calls.Load() != 1 {
			t.Errorf("https ran %d times, want 1", calls.Load())
		}
		if len(report.Kinds) != 2 || report.Kinds[0] != model.KindHTTPS || report.Kinds[1] != model.KindContent {
			t.Errorf("Kinds = %v, want [https content]", report.Kinds)
		}
		data, err := json.Marshal(report)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if n := strings.Count(string(data), `"https":`); n != 1 {
			t.Errorf("https key appears %d times: %s", n, data)
		}
	})

	t.Run("empty kinds runs essential probes", func(t *testing.T) {
		t.Parallel()

		e := New(nil)
		report := e.Run(context.Background(), testTarget(), nil)

		if len(report.Kinds) != len(model.EssentialKinds()) {
			t.Fatalf("Kinds = %v", report.Kinds)
		}
		for _, perr := range report.Errors {
			if perr.Kind != model.ErrorUpstreamUnavailable {
				t.Errorf("unregistered probe %s has kind %s", perr.Probe, perr.Kind)
			}
		}
		if len(report.Errors) != 3 {
			t.Errorf("expected 3 errors for unregistered probes, got %d", len(report.Errors))
		}
	})

	t.Run("nil result without error is malformed", func(t *testing.T) {
		t.Parallel()

		e := New(map[model.ProbeKind]probe.Func{model.KindSites: okProbe(nil)})
		report := e.Run(context.Background(), testTarget(), []model.ProbeKind{model.KindSites})

		if len(report.Errors) != 1 || report.Errors[0].Kind != model.ErrorMalformedResponse {
			t.Errorf("Errors = %v, want one malformed_response", report.Errors)
		}
	})
}

// TestEngineTimeouts tests that a slow probe times out without affecting the others.
func TestEngineTimeouts(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	e := New(map[model.ProbeKind]probe.Func{
		model.KindContent: func(ctx context.Context, _ model.ProbeTarget) (model.Result, error) {
			<-ctx.Done()
			cancelled.Store(true)
			return nil, ctx.Err()
		},
		model.KindSites: okProbe(&model.SitesResult{}),
	})

	target := testTarget().WithTimeout(20 * time.Millisecond)
	start := time.Now()
	report := e.Run(context.Background(), target, []model.ProbeKind{model.KindContent, model.KindSites})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %s, expected it to return near the timeout", elapsed)
	}
	if report.Sites() == nil {
		t.Error("expected sites result to survive the content timeout")
	}
	if len(report.Errors) != 1 || report.Errors[0].Kind != model.ErrorTimeout {
		t.Fatalf("Errors = %v, want one timeout", report.Errors)
	}
	deadline := time.Now().Add(time.Second)
	for !cancelled.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !cancelled.Load() {
		t.Error("expected the timed out probe's context to be cancelled")
	}
}

// TestEnginePublicIP tests that the public IP is resolved once and shared.
func TestEnginePublicIP(t *testing.T) {
	t.Parallel()

	t.Run("resolved once for all probes", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{ip: "203.0.113.7"}
		var mu sync.Mutex
		seen := make(map[string]int)
		record := func(ctx context.Context, target model.ProbeTarget) (model.Result, error) {
			mu.Lock()
			seen[target.PublicIP]++
			mu.Unlock()
			return &model.SitesResult{}, nil
		}
		e := New(map[model.ProbeKind]probe.Func{
			model.KindAnonymity: record,
			model.KindHTTPS:     record,
			model.KindLocation:  record,
		}, WithPublicIPResolver(resolver))

		e.Run(context.Background(), testTarget(), model.EssentialKinds())

		if got := resolver.calls.Load(); got != 1 {
			t.Errorf("resolver called %d times, want 1", got)
		}
		if seen["203.0.113.7"] != 3 {
			t.Errorf("probes saw public IPs %v", seen)
		}
	})

	t.Run("not resolved when no probe needs it", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{ip: "203.0.113.7"}
		e := New(map[model.ProbeKind]probe.Func{
			model.KindSites: okProbe(&model.SitesResult{}),
		}, WithPublicIPResolver(resolver))

		e.Run(context.Background(), testTarget(), []model.ProbeKind{model.KindSites})

		if got := resolver.calls.Load(); got != 0 {
			t.Errorf("resolver called %d times, want 0", got)
		}
	})

	t.Run("preset public IP skips lookup", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{ip: "203.0.113.7"}
		e := New(map[model.ProbeKind]probe.Func{
			model.KindAnonymity: okProbe(&model.AnonymityResult{}),
		}, WithPublicIPResolver(resolver))

		e.Run(context.Background(), testTarget().WithPublicIP("198.51.100.1"), []model.ProbeKind{model.KindAnonymity})

		if got := resolver.calls.Load(); got != 0 {
			t.Errorf("resolver called %d times, want 0", got)
		}
	})

	t.Run("failed lookup leaves it empty", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{err: errors.New("offline")}
		var got atomic.Value
		e := New(map[model.ProbeKind]probe.Func{
			model.KindAnonymity: func(_ context.Context, target model.ProbeTarget) (model.Result, error) {
				got.Store(target.PublicIP)
				return &model.AnonymityResult{}, nil
			},
		}, WithPublicIPResolver(resolver))

		report := e.Run(context.Background(), testTarget(), []model.ProbeKind{model.KindAnonymity})

		if ip, _ := got.Load().(string); ip != "" {
			t.Errorf("probe saw public IP %q, want empty", ip)
		}
		if len(report.Errors) != 0 {
			t.Errorf("lookup failure must not fail the probe: %v", report.Errors)
		}
	})
}

// TestEngineStates tests the state machine of one invocation.
func TestEngineStates(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var states []State
	e := New(map[model.ProbeKind]probe.Func{
		model.KindSites: okProbe(&model.SitesResult{}),
	}, WithStateHook(func(_ string, s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	e.Run(context.Background(), testTarget(), []model.ProbeKind{model.KindSites})

	want := []State{StatePublicIPResolving, StateProbesRunning, StateMerging, StateDone}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
	if StateDone.String() != "done" || State(42).String() != "unknown" {
		t.Error("unexpected State.String output")
	}
}

// TestEngineTransparentProxy tests a full invocation against a proxy that forwards the caller's IP.
func TestEngineTransparentProxy(t *testing.T) {
	t.Parallel()

	const publicIP = "203.0.113.7"
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			http.Error(w, "not a proxy request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test server
			"Host":       r.URL.Host,
			"User-Agent": r.UserAgent(),
			"Via":        publicIP,
		})
	}))
	t.Cleanup(proxy.Close)

	u, err := url.Parse(proxy.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	target := model.ProbeTarget{
		Host:    u.Hostname(),
		Port:    uint16(port),
		Scheme:  model.SchemeHTTP,
		Timeout: 5 * time.Second,
	}

	prober := probe.NewProber(probe.Env{JudgeURL: "http://judge.example/azenv"})
	e := New(prober.Funcs(), WithPublicIPResolver(&stubResolver{ip: publicIP}))

	report := e.Run(context.Background(), target, []model.ProbeKind{model.KindAnonymity})

	got := report.Anonymity()
	if got == nil {
		t.Fatalf("expected anonymity result, errors: %v", report.Errors)
	}
	if got.Anonymity != model.AnonymityTransparent {
		t.Errorf("Anonymity = %s, want transparent", got.Anonymity)
	}
	for _, perr := range report.Errors {
		if perr.Probe == model.KindAnonymity {
			t.Errorf("unexpected anonymity error: %v", perr)
		}
	}
}
