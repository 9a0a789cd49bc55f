package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default bounds, matching a queue that runs one unit at a time with
// effectively no throughput cap.
const (
	DefaultMaxConcurrent = 1
	DefaultMaxThroughput = 1000
	DefaultWindow        = 100 * time.Millisecond
)

// Func is a unit of work.
type Func[T any] func(ctx context.Context) (T, error)

// Stats is a snapshot of the queue state.
type Stats struct {
	Pending           int `json:"pending"`
	Running           int `json:"running"`
	CompletedInWindow int `json:"completed_in_window"`
	Submitted         int `json:"submitted"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`
	MaxConcurrent     int `json:"max_concurrent"`
	MaxThroughput     int `json:"max_throughput"`
	WindowMillis      int `json:"window_ms"`
}

type options struct {
	maxConcurrent int
	maxThroughput int
	window        time.Duration
	logger        *slog.Logger
	now           func() time.Time
	onComplete    func(id uuid.UUID, at time.Time, err error)
}

// Option configures a Queue.
type Option func(*options)

// WithMaxConcurrent sets how many units may run at once. Values below 1 are raised to 1.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = max(n, 1)
	}
}

// WithMaxThroughput sets how many completions are allowed per window. Values below 1 are raised to 1.
func WithMaxThroughput(n int) Option {
	return func(o *options) {
		o.maxThroughput = max(n, 1)
	}
}

// WithWindow sets the length of the sliding throughput window.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCompletionHook registers a function called after each unit completes,
// with the completion timestamp the queue recorded for it.
func WithCompletionHook(fn func(id uuid.UUID, at time.Time, err error)) Option {
	return func(o *options) {
		o.onComplete = fn
	}
}

type entry[T any] struct {
	ctx    context.Context
	fn     Func[T]
	handle *Handle[T]
}

// Queue schedules units of work under concurrency and throughput bounds.
// All scheduling state is guarded by mu; the admit decision and the counter
// updates it implies happen in one critical section.
type Queue[T any] struct {
	opts options

	mu          sync.Mutex
	pending     []*entry[T]
	running     int
	completions []time.Time
	wakeup      *time.Timer
	closed      bool
	submitted   int
	completed   int
	failed      int

	wg sync.WaitGroup
}

// New creates a Queue.
func New[T any](opts ...Option) *Queue[T] {
	o := options{
		maxConcurrent: DefaultMaxConcurrent,
		maxThroughput: DefaultMaxThroughput,
		window:        DefaultWindow,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{opts: o}
}

// Submit enqueues fn and returns its handle without blocking.
// fn receives ctx when it is launched. If ctx is already done when the unit
// reaches the head of the queue, the unit is not run and its handle
// resolves with ctx.Err().
func (q *Queue[T]) Submit(ctx context.Context, fn Func[T]) *Handle[T] {
	h := newHandle[T](uuid.New())

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		var zero T
		h.resolve(zero, ErrQueueClosed)
		return h
	}
	q.submitted++
	q.pending = append(q.pending, &entry[T]{ctx: ctx, fn: fn, handle: h})
	q.opts.logger.Debug("unit submitted", "id", h.id, "pending", len(q.pending))
	q.schedule()
	return h
}

// schedule launches pending units while both bounds allow. Must hold mu.
func (q *Queue[T]) schedule() {
	for len(q.pending) > 0 {
		now := q.opts.now()
		q.pruneLocked(now)

		if q.running >= q.opts.maxConcurrent {
			return
		}
		if len(q.completions)+q.running >= q.opts.maxThroughput {
			q.armWakeupLocked(now)
			return
		}

		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		if err := e.ctx.Err(); err != nil {
			var zero T
			q.failed++
			e.handle.resolve(zero, err)
			continue
		}

		q.running++
		q.wg.Add(1)
		q.opts.logger.Debug("unit launched", "id", e.handle.id, "running", q.running)
		go q.run(e)
	}
}

// pruneLocked drops completion timestamps older than now - window.
func (q *Queue[T]) pruneLocked(now time.Time) {
	cutoff := now.Add(-q.opts.window)
	i := 0
	for i < len(q.completions) && q.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		q.completions = append(q.completions[:0], q.completions[i:]...)
	}
}

// armWakeupLocked schedules one re-check for when the oldest completion
// leaves the window. It is needed only when nothing is running, since a
// running unit's completion re-triggers scheduling anyway.
func (q *Queue[T]) armWakeupLocked(now time.Time) {
	if q.running > 0 || q.wakeup != nil || len(q.completions) == 0 {
		return
	}
	wait := q.completions[0].Add(q.opts.window).Sub(now) + time.Millisecond
	q.wakeup = time.AfterFunc(max(wait, 0), func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.wakeup = nil
		if !q.closed {
			q.schedule()
		}
	})
}

func (q *Queue[T]) run(e *entry[T]) {
	defer q.wg.Done()

	value, err := invoke(e.ctx, e.fn)

	q.mu.Lock()
	at := q.opts.now()
	q.running--
	q.completions = append(q.completions, at)
	q.completed++
	if err != nil {
		q.failed++
	}
	if !q.closed {
		q.schedule()
	}
	q.mu.Unlock()

	e.handle.resolve(value, err)
	q.opts.logger.Debug("unit completed", "id", e.handle.id, "error", err)
	if q.opts.onComplete != nil {
		q.opts.onComplete(e.handle.id, at, err)
	}
}

func invoke[T any](ctx context.Context, fn Func[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value, err = zero, fmt.Errorf("%w: %v", ErrUnitPanicked, r)
		}
	}()
	return fn(ctx)
}

// Stats returns a snapshot of the queue state.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked(q.opts.now())
	return Stats{
		Pending:           len(q.pending),
		Running:           q.running,
		CompletedInWindow: len(q.completions),
		Submitted:         q.submitted,
		Completed:         q.completed,
		Failed:            q.failed,
		MaxConcurrent:     q.opts.maxConcurrent,
		MaxThroughput:     q.opts.maxThroughput,
		WindowMillis:      int(q.opts.window / time.Millisecond),
	}
}

// Shutdown stops accepting units, fails every pending unit with
// ErrQueueClosed, and waits for running units to finish or ctx to end.
func (q *Queue[T]) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	if q.wakeup != nil {
		q.wakeup.Stop()
		q.wakeup = nil
	}
	pending := q.pending
	q.pending = nil
	q.failed += len(pending)
	q.mu.Unlock()

	var zero T
	for _, e := range pending {
		e.handle.resolve(zero, ErrQueueClosed)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
