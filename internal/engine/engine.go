package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/probe"
	"github.com/nao1215/proxyprobe/internal/queue"
	"github.com/nao1215/proxyprobe/internal/race"
	"golang.org/x/sync/errgroup"
)

// Engine orchestrates probes for one proxy at a time. An Engine holds no
// per-invocation state and is safe for concurrent use.
type Engine struct {
	// probes maps each kind to the function that implements it.
	probes map[model.ProbeKind]probe.Func

	// resolver looks up the caller's public IP. May be nil.
	resolver probe.PublicIPResolver

	logger    *slog.Logger
	stateHook func(proxy string, s State)
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPublicIPResolver sets the resolver used in the PublicIPResolving state.
// Without one, targets that carry no public IP are classified without it.
func WithPublicIPResolver(r probe.PublicIPResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithProbe registers or replaces the function for one probe kind.
func WithProbe(kind model.ProbeKind, fn probe.Func) Option {
	return func(e *Engine) {
		e.probes[kind] = fn
	}
}

// WithStateHook registers a function called on every state transition.
func WithStateHook(fn func(proxy string, s State)) Option {
	return func(e *Engine) {
		e.stateHook = fn
	}
}

// New creates an Engine from a probe registry, usually probe.Prober.Funcs().
func New(probes map[model.ProbeKind]probe.Func, opts ...Option) *Engine {
	e := &Engine{
		probes: make(map[model.ProbeKind]probe.Func, len(probes)),
		now:    time.Now,
	}
	for k, fn := range probes {
		e.probes[k] = fn
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Supports reports whether a probe is registered for kind.
func (e *Engine) Supports(kind model.ProbeKind) bool {
	_, ok := e.probes[kind]
	return ok
}

// Run probes target with the requested kinds and returns the merged report.
// An empty kinds list runs the essential probes. Run always returns a report
// with exactly one entry per requested kind; a repeated kind runs once.
func (e *Engine) Run(ctx context.Context, target model.ProbeTarget, kinds []model.ProbeKind) *model.AggregateReport {
	kinds = model.UniqueKinds(kinds)
	if len(kinds) == 0 {
		kinds = model.EssentialKinds()
	}
	inv := &invocation{engine: e, proxy: target.Address()}
	start := e.now()

	inv.transition(StatePublicIPResolving)
	target = e.resolvePublicIP(ctx, target, kinds)

	inv.transition(StateProbesRunning)
	results := e.runProbes(ctx, target, kinds)

	inv.transition(StateMerging)
	report := model.NewAggregateReport(target.Address(), kinds, results)
	report.CheckedAt = start
	report.Elapsed = e.now().Sub(start)

	e.logger.Info("proxy checked",
		"proxy", report.Proxy,
		"probes", len(kinds),
		"failed", len(report.Errors),
		"elapsed", report.Elapsed,
	)
	inv.transition(StateDone)
	return report
}

// Unit adapts one Run call to a queue unit of work.
func (e *Engine) Unit(target model.ProbeTarget, kinds []model.ProbeKind) queue.Func[*model.AggregateReport] {
	return func(ctx context.Context) (*model.AggregateReport, error) {
		return e.Run(ctx, target, kinds), nil
	}
}

// resolvePublicIP fills target.PublicIP when a requested probe needs it.
// A failed lookup leaves it empty, which classifies as Unknown downstream.
func (e *Engine) resolvePublicIP(ctx context.Context, target model.ProbeTarget, kinds []model.ProbeKind) model.ProbeTarget {
	if target.PublicIP != "" || e.resolver == nil || !model.NeedsPublicIP(kinds) {
		return target
	}
	ip, err := race.Run(ctx, target.Timeout, e.resolver.PublicIP)
	if err != nil {
		e.logger.Warn("public ip lookup failed",
			"proxy", target.Address(),
			"error", err,
		)
		return target
	}
	e.logger.Debug("public ip resolved", "proxy", target.Address())
	return target.WithPublicIP(ip)
}

// runProbes launches every requested probe and waits for all of them.
// The group has no shared context: one probe failing never cancels another.
func (e *Engine) runProbes(ctx context.Context, target model.ProbeTarget, kinds []model.ProbeKind) map[model.ProbeKind]model.ProbeResult {
	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[model.ProbeKind]model.ProbeResult, len(kinds))
	)

	for _, kind := range kinds {
		fn, ok := e.probes[kind]
		if !ok {
			results[kind] = model.Failed(model.NewProbeError(kind, model.ErrorUpstreamUnavailable, "probe is not registered"))
			continue
		}
		g.Go(func() error {
			res := e.runProbe(ctx, target, kind, fn)
			mu.Lock()
			results[kind] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probe goroutines never return errors

	return results
}

func (e *Engine) runProbe(ctx context.Context, target model.ProbeTarget, kind model.ProbeKind, fn probe.Func) model.ProbeResult {
	value, err := race.Run(ctx, target.Timeout, func(ctx context.Context) (model.Result, error) {
		return fn(ctx, target)
	})
	if err == nil && value == nil {
		err = model.NewProbeError(kind, model.ErrorMalformedResponse, "probe returned no data")
	}
	if err != nil {
		perr := model.Classify(kind, err)
		e.logger.Debug("probe failed",
			"proxy", target.Address(),
			"probe", kind,
			"kind", perr.Kind,
			"error", err,
		)
		return model.Failed(perr)
	}
	return model.Succeeded(value)
}

// invocation tracks the state of a single Run call.
type invocation struct {
	engine *Engine
	proxy  string
	state  State
}

func (inv *invocation) transition(next State) {
	if next <= inv.state {
		return
	}
	inv.state = next
	inv.engine.logger.Debug("engine state", "proxy", inv.proxy, "state", next.String())
	if inv.engine.stateHook != nil {
		inv.engine.stateHook(inv.proxy, next)
	}
}
