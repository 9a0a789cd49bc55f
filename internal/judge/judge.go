// Package judge implements a proxy judge: an HTTP endpoint that echoes the
// headers it received so the anonymity probe can see what a proxy added.
//
// The judge also serves the fixed content test page and reports the caller's
// address, so a single self-hosted instance can back the anonymity, content
// and public IP lookups.
package judge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nao1215/proxyprobe/internal/probe"
)

// Routes served by the judge.
const (
	PathHeaders  = "/azenv"
	PathClientIP = "/clientip"
	PathTestPage = "/index.html"
)

// Handler serves the judge endpoints.
type Handler struct {
	router   chi.Router
	testPage string
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithTestPage replaces the body served at PathTestPage.
func WithTestPage(body string) Option {
	return func(h *Handler) {
		h.testPage = body
	}
}

// WithLogger sets the logger for request logging.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates the judge handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		testPage: probe.DefaultExpectedContent,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(PathHeaders, h.handleHeaders)
	r.Get(PathClientIP, h.handleClientIP)
	r.Get(PathTestPage, h.handleTestPage)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// EchoHeaders flattens request headers into lowercase-dash keys with
// comma-joined values. The Host header is included because Go moves it out
// of r.Header.
func EchoHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		out[probe.NormalizeHeaderName(name)] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		out["host"] = r.Host
	}
	return out
}

func (h *Handler) handleHeaders(w http.ResponseWriter, r *http.Request) {
	headers := EchoHeaders(r)
	h.logger.Debug("judge request", "remote", r.RemoteAddr, "headers", len(headers))
	writeJSON(w, headers)
}

func (h *Handler) handleClientIP(w http.ResponseWriter, r *http.Request) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	writeJSON(w, map[string]string{"clientip": ip})
}

func (h *Handler) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, h.testPage)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
