package booking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/metrics"
)

// Dispatcher runs side effects outside the booking's consistency boundary.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error)
}

type DispatcherOptions struct {
	Timeout  time.Duration // per attempt
	Attempts int
	Backoff  time.Duration // multiplied by the attempt number
}

// AsyncDispatcher runs each side effect in its own goroutine with a bounded
// timeout and a few retries. Failures are logged and counted, never returned.
type AsyncDispatcher struct {
	opts    DispatcherOptions
	logger  *zap.Logger
	metrics *metrics.BookingMetrics
	wg      sync.WaitGroup
}

func NewAsyncDispatcher(opts DispatcherOptions, logger *zap.Logger, m *metrics.BookingMetrics) *AsyncDispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{opts: opts, logger: logger, metrics: m}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	// the request context ends with the response; keep its values only
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(base, name, fn)
	}()
}

func (d *AsyncDispatcher) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	var err error
	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			d.metrics.ObserveSideEffect(name, true)
			return
		}

		d.logger.Warn("side effect attempt failed",
			zap.String("effect", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < d.opts.Attempts && d.opts.Backoff > 0 {
			time.Sleep(time.Duration(attempt) * d.opts.Backoff)
		}
	}

	d.metrics.ObserveSideEffect(name, false)
	d.logger.Error("side effect dropped", zap.String("effect", name), zap.Error(err))
}

// Wait blocks until every dispatched side effect has finished.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}
