package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/multierr"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/engine"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/queue"
	"github.com/nao1215/proxyprobe/internal/report"
)

// ShutdownTimeout bounds the graceful shutdown triggered by context cancellation.
const ShutdownTimeout = 30 * time.Second

// HistoryStore records reports and answers performance queries.
// *database.HistoryDB implements it.
type HistoryStore interface {
	SaveReport(ctx context.Context, r *model.AggregateReport) error
	GetPerformance(ctx context.Context, proxy string) (*model.ProxyPerformance, error)
}

// Server is the HTTP front-end of the probe engine.
type Server struct {
	engine         *engine.Engine
	queue          *queue.Queue[*model.AggregateReport]
	history        HistoryStore
	logger         *slog.Logger
	defaultTimeout time.Duration
	limiter        *ipLimiter

	mu   sync.Mutex
	http *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueue sets the queue check requests are submitted to.
func WithQueue(q *queue.Queue[*model.AggregateReport]) Option {
	return func(s *Server) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithHistory records every report in store and enables /performance.
func WithHistory(store HistoryStore) Option {
	return func(s *Server) {
		s.history = store
	}
}

// WithDefaultTimeout sets the probe timeout used when a request has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.defaultTimeout = d
	}
}

// WithRateLimit limits each client IP to perSecond requests with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newIPLimiter(perSecond, burst)
	}
}

// New creates a Server for e.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:         e,
		logger:         slog.Default(),
		defaultTimeout: config.DefaultTimeout,
		limiter:        newIPLimiter(config.DefaultRateLimit, config.DefaultRateBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue == nil {
		s.queue = queue.New[*model.AggregateReport](
			queue.WithMaxConcurrent(config.DefaultMaxConcurrent),
			queue.WithLogger(s.logger),
		)
	}
	return s
}

// Queue returns the queue check requests are submitted to.
func (s *Server) Queue() *queue.Queue[*model.AggregateReport] {
	return s.queue
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Get("/", s.handleIndex)
		r.Get("/checkessential", s.checkHandler(model.EssentialKinds()))
		r.Get("/checkcontent", s.checkHandler([]model.ProbeKind{model.KindContent}))
		r.Get("/checkdnsleak", s.checkHandler([]model.ProbeKind{model.KindDNSLeak}))
		r.Get("/everything", s.checkHandler(model.AllKinds()))
		r.Get("/check", s.handleCheck)
		r.Get("/performance", s.handlePerformance)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting requests, waits for in-flight ones, and drains
// the queue. Errors from both steps are combined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	err = multierr.Append(err, s.queue.Shutdown(ctx))
	s.logger.Info("server stopped", "error", err)
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("host") == "" {
		writeJSON(w, http.StatusOK, map[string]string{"hello": "welcome to the proxyprobe API"})
		return
	}
	s.check(w, r, model.EssentialKinds())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) checkHandler(kinds []model.ProbeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.check(w, r, kinds)
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	kinds, err := model.ParseKinds(r.URL.Query().Get("probes"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.check(w, r, kinds)
}

func (s *Server) check(w http.ResponseWriter, r *http.Request, kinds []model.ProbeKind) {
	target, err := s.parseTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, k := range kinds {
		if !s.engine.Supports(k) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("probe %q is not available", k))
			return
		}
	}

	handle := s.queue.Submit(r.Context(), s.engine.Unit(target, kinds))
	rep, err := handle.Wait(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Debug("client went away", "proxy", target.Address(), "unit", handle.ID())
			return
		}
		s.logger.Error("check failed", "proxy", target.Address(), "unit", handle.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
			"proxy": target.Address(),
		})
		return
	}

	if s.history != nil {
		if err := s.history.SaveReport(context.WithoutCancel(r.Context()), rep); err != nil {
			s.logger.Warn("failed to save report", "proxy", rep.Proxy, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := report.NewJSONWriter(w).Write(rep); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrHistoryDisabled.Error())
		return
	}
	target, err := s.parseTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	perf, err := s.history.GetPerformance(r.Context(), target.Address())
	if err != nil {
		s.logger.Error("failed to read performance", "proxy", target.Address(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if perf == nil {
		writeError(w, http.StatusNotFound, "proxy has not been checked")
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

// parseTarget validates host, port and timeout (ms, "timeout" or "to").
func (s *Server) parseTarget(r *http.Request) (model.ProbeTarget, error) {
	q := r.URL.Query()

	host := q.Get("host")
	if !model.IsIPv4(host) {
		return model.ProbeTarget{}, ErrInvalidHost
	}
	port, err := model.ParsePort(q.Get("port"))
	if err != nil {
		return model.ProbeTarget{}, err
	}

	timeout := s.defaultTimeout
	raw := q.Get("timeout")
	if raw == "" {
		raw = q.Get("to")
	}
	if raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return model.ProbeTarget{}, fmt.Errorf("%w: %q", ErrInvalidTimeout, raw)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	scheme, err := model.ParseScheme(q.Get("scheme"))
	if err != nil {
		return model.ProbeTarget{}, err
	}

	return model.ProbeTarget{
		Host:    host,
		Port:    port,
		Timeout: timeout,
		Scheme:  scheme,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
