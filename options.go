package splitjoin

import (
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the whole configuration. Options given after it still apply.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithMaxThreads bounds the number of sub-units processed at once. For a pooled engine it is also the number of
// workers.
func WithMaxThreads(n int) Option {
	return func(e *Engine) { e.cfg.MaxThreads = n }
}

// WithTimeout sets the batch deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.cfg.Timeout = d }
}

// WithPooled selects the pooled variant.
func WithPooled(pooled bool) Option {
	return func(e *Engine) { e.cfg.Pooled = pooled }
}

// WithWarmStart starts every pooled worker when the engine is built.
func WithWarmStart(warm bool) Option {
	return func(e *Engine) { e.cfg.WarmStart = warm }
}

// WithWorkerIdleTimeout sets how long pooled workers may stay idle.
func WithWorkerIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.cfg.IdleTimeout = d }
}

// WithBorrowTimeout bounds the wait for a pooled worker.
func WithBorrowTimeout(d time.Duration) Option {
	return func(e *Engine) { e.cfg.BorrowTimeout = d }
}

// WithCloseGrace bounds how long Close waits for running tasks.
func WithCloseGrace(d time.Duration) Option {
	return func(e *Engine) { e.cfg.CloseGrace = d }
}

// WithLogger sets the logger of the engine and of the components it owns.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the collectors updated by the engine.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the provider of the tracer creating one span per invocation.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithSchedulerOptions adds options to the underlying goroutine pool.
func WithSchedulerOptions(opts ...ants.Option) Option {
	return func(e *Engine) { e.schedulerOpts = append(e.schedulerOpts, opts...) }
}
