package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/queue"
	"go.uber.org/multierr"
)

// DefaultBatchConcurrency is the number of proxies checked at once when the
// BatchChecker owns its queue.
const DefaultBatchConcurrency = 10

// BatchChecker checks many proxies through an admission-controlled queue.
type BatchChecker struct {
	engine *Engine
	queue  *queue.Queue[*model.AggregateReport]
	logger *slog.Logger
}

// BatchOption configures a BatchChecker.
type BatchOption func(*batchOptions)

type batchOptions struct {
	logger      *slog.Logger
	queue       *queue.Queue[*model.AggregateReport]
	concurrency int
}

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(o *batchOptions) {
		o.logger = logger
	}
}

// WithQueue makes the checker share an existing queue instead of creating one.
func WithQueue(q *queue.Queue[*model.AggregateReport]) BatchOption {
	return func(o *batchOptions) {
		o.queue = q
	}
}

// WithConcurrency sets the concurrency of the checker's own queue.
// It has no effect together with WithQueue.
func WithConcurrency(n int) BatchOption {
	return func(o *batchOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// NewBatchChecker creates a BatchChecker that runs e.
func NewBatchChecker(e *Engine, opts ...BatchOption) *BatchChecker {
	o := batchOptions{concurrency: DefaultBatchConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.queue == nil {
		o.queue = queue.New[*model.AggregateReport](
			queue.WithMaxConcurrent(o.concurrency),
			queue.WithLogger(o.logger),
		)
	}
	return &BatchChecker{engine: e, queue: o.queue, logger: o.logger}
}

// Queue returns the queue the checker submits to.
func (b *BatchChecker) Queue() *queue.Queue[*model.AggregateReport] {
	return b.queue
}

// CheckAll checks every target and returns the reports in target order.
// A unit that fails outright still yields a report in which every requested
// probe carries the failure; the failures are also combined into the error.
func (b *BatchChecker) CheckAll(ctx context.Context, targets []model.ProbeTarget, kinds []model.ProbeKind) ([]*model.AggregateReport, error) {
	reports := make([]*model.AggregateReport, len(targets))
	err := b.CheckAllWithCallback(ctx, targets, kinds, func(report *model.AggregateReport, index int) {
		reports[index] = report
	})
	return reports, err
}

// CheckAllWithCallback checks every target and calls callback for each
// report in submission order, as soon as that report and every earlier one
// are available.
func (b *BatchChecker) CheckAllWithCallback(
	ctx context.Context,
	targets []model.ProbeTarget,
	kinds []model.ProbeKind,
	callback func(report *model.AggregateReport, index int),
) error {
	if len(kinds) == 0 {
		kinds = model.EssentialKinds()
	}
	b.logger.Info("starting batch check",
		"total_proxies", len(targets),
	)
	start := time.Now()

	handles := make([]*queue.Handle[*model.AggregateReport], len(targets))
	for i, target := range targets {
		handles[i] = b.queue.Submit(ctx, b.engine.Unit(target, kinds))
	}

	var errs error
	for i, h := range handles {
		report, err := h.Wait(ctx)
		if err != nil {
			b.logger.Warn("proxy check failed",
				"proxy", targets[i].Address(),
				"error", err,
			)
			errs = multierr.Append(errs, err)
			report = failedReport(targets[i], kinds, err)
		}
		callback(report, i)
	}

	b.logger.Info("batch check complete",
		"total_proxies", len(targets),
		"elapsed", time.Since(start),
	)
	return errs
}

func failedReport(target model.ProbeTarget, kinds []model.ProbeKind, err error) *model.AggregateReport {
	results := make(map[model.ProbeKind]model.ProbeResult, len(kinds))
	for _, k := range kinds {
		results[k] = model.Failed(model.Classify(k, err))
	}
	return model.NewAggregateReport(target.Address(), kinds, results)
}
