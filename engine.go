package splitjoin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fogfactory/splitjoin"

// Phase is the step an invocation of Execute is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSplitting
	PhaseDispatching
	PhaseAwaitingCompletion
	PhaseJoining
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSplitting:
		return "splitting"
	case PhaseDispatching:
		return "dispatching"
	case PhaseAwaitingCompletion:
		return "awaiting_completion"
	case PhaseJoining:
		return "joining"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Engine splits a message, runs a stage on every part concurrently and joins the results back.
//
// An unpooled engine builds a fresh stage for every sub-unit; a pooled engine shares a bounded set of started
// workers between sub-units and invocations. Execute may be called concurrently.
type Engine struct {
	dispatch       Dispatch
	stage          StageFactory
	cfg            Config
	log            *zap.Logger
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	schedulerOpts  []ants.Option

	scheduler *Scheduler
	workers   *WorkerPool
	closed    atomic.Bool
}

// New builds an engine. A missing splitter, aggregator or stage is reported here, never at execution time.
func New(dispatch Dispatch, stage StageFactory, opts ...Option) (*Engine, error) {
	e := &Engine{dispatch: dispatch, stage: stage, cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}

	if err := dispatch.Validate(); err != nil {
		return nil, err
	}
	if stage == nil {
		return nil, fmt.Errorf("%w: engine needs a stage", ErrInvalidConfig)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	e.log = orNop(e.log)
	if e.tracerProvider == nil {
		e.tracerProvider = otel.GetTracerProvider()
	}
	e.tracer = e.tracerProvider.Tracer(tracerName)

	scheduler, err := NewScheduler(e.cfg.workers(), e.cfg.CloseGrace, e.log, e.schedulerOpts...)
	if err != nil {
		return nil, err
	}
	e.scheduler = scheduler

	if e.cfg.Pooled {
		e.workers, err = NewWorkerPool(stage, e.cfg.workers(),
			WithMaxWait(e.cfg.BorrowTimeout),
			WithIdleTimeout(e.cfg.IdleTimeout),
			WithPoolLogger(e.log),
			WithPoolMetrics(e.metrics))
		if err != nil {
			_ = e.scheduler.Close()
			return nil, err
		}
		if e.cfg.WarmStart {
			if err := e.workers.WarmUp(context.Background()); err != nil {
				_ = e.Close(context.Background())
				return nil, err
			}
		}
	}

	e.log.Debug("split-join engine ready",
		zap.Bool("pooled", e.cfg.Pooled),
		zap.Int("max_threads", e.cfg.workers()),
		zap.Duration("timeout", e.cfg.Timeout))
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.MaxThreads = cfg.workers()
	return cfg
}

// PoolStats returns the worker pool occupation. ok is false for an unpooled engine.
func (e *Engine) PoolStats() (stats PoolStats, ok bool) {
	if e.workers == nil {
		return PoolStats{}, false
	}
	return e.workers.Stats(), true
}

// Execute splits msg, processes every sub-unit concurrently, then joins them back into msg.
//
// Every sub-unit is attempted even when some fail; the first recorded failure is returned and the others are logged.
// On failure the aggregator has not changed msg. An empty split leaves msg unchanged and skips the aggregator. On
// success msg carries the number of sub-units under MetadataSplitTotal.
func (e *Engine) Execute(ctx context.Context, msg *Message) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if msg == nil {
		return ErrNilMessage
	}

	ctx, span := e.tracer.Start(ctx, "splitjoin.Execute", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.Bool("splitjoin.pooled", e.cfg.Pooled),
	))
	defer span.End()

	inv := &invocation{
		msg:   msg,
		log:   e.log.With(zap.String("message_id", msg.ID)),
		span:  span,
		start: time.Now(),
	}
	err := e.execute(ctx, inv)
	if err != nil {
		inv.enter(PhaseFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.observeInvocation(resultFailure, inv.start)
		return fmt.Errorf("split-join message %s: %w", msg.ID, err)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, inv *invocation) error {
	inv.enter(PhaseSplitting)
	subUnits, err := e.split(ctx, inv)
	if err != nil {
		e.metrics.observeFailure(err)
		return err
	}
	if len(subUnits) == 0 {
		inv.log.Debug("split produced no sub-unit, message left unchanged")
		inv.enter(PhaseSucceeded)
		e.metrics.observeInvocation(resultNoop, inv.start)
		return nil
	}
	inv.span.SetAttributes(attribute.Int("splitjoin.sub_units", len(subUnits)))
	e.metrics.addSubUnits(len(subUnits))

	inv.enter(PhaseDispatching)
	failures := &FailureCollector{}
	tasks := lo.Map(subUnits, func(sub *SubUnit, _ int) Task {
		return e.task(sub, failures)
	})

	inv.enter(PhaseAwaitingCompletion)
	outcomes := e.scheduler.SubmitAll(ctx, tasks, e.cfg.Timeout)
	for i, o := range outcomes {
		var te *taskError
		if o.Err == nil || errors.As(o.Err, &te) {
			continue
		}
		// panics, timeouts and submission errors: the task never reported by itself
		err := newTaskError(subUnits[i].Position, o.Err)
		if o.Finished {
			subUnits[i].complete(err)
		}
		failures.Record(subUnits[i].Position, err)
	}

	if first := failures.First(); first != nil {
		for _, f := range failures.Failures() {
			e.metrics.observeFailure(f.Err)
		}
		inv.log.Debug("sub-units failed, join skipped", zap.Int("failures", failures.Len()), zap.Int("sub_units", len(subUnits)))
		failures.LogSuppressed(inv.log)
		return first
	}

	inv.enter(PhaseJoining)
	joined := inv.msg.Clone()
	if err := e.dispatch.Aggregator.Join(ctx, joined, subUnits); err != nil {
		err = fmt.Errorf("%w: %w", ErrJoin, err)
		e.metrics.observeFailure(err)
		return err
	}
	joined.Metadata.SetInt(MetadataSplitTotal, len(subUnits))
	inv.msg.replaceWith(joined)

	inv.enter(PhaseSucceeded)
	e.metrics.observeInvocation(resultSuccess, inv.start)
	return nil
}

// split drains the splitter sequence, tagging each message with its position. The sequence is always closed.
func (e *Engine) split(ctx context.Context, inv *invocation) ([]*SubUnit, error) {
	seq, err := e.dispatch.Splitter.Split(ctx, inv.msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSplit, err)
	}
	defer func() {
		if err := seq.Close(); err != nil {
			inv.log.Warn("failed to close split sequence", zap.Error(err))
		}
	}()

	var subUnits []*SubUnit
	for {
		next, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			return subUnits, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: sub-unit %d: %w", ErrSplit, len(subUnits)+1, err)
		}
		if next == nil {
			continue
		}
		subUnits = append(subUnits, NewSubUnit(next, len(subUnits)+1))
	}
}

// task builds the unit of work for one sub-unit. It records its own failure, so that failures are kept in
// completion order. A panic unwinds through it and is reported by the scheduler.
func (e *Engine) task(sub *SubUnit, failures *FailureCollector) Task {
	return func(ctx context.Context) error {
		err := e.process(ctx, sub)
		if err != nil {
			err = newTaskError(sub.Position, err)
			failures.Record(sub.Position, err)
		}
		sub.complete(err)
		return err
	}
}

func (e *Engine) process(ctx context.Context, sub *SubUnit) error {
	if e.workers != nil {
		w, err := e.workers.Borrow(ctx)
		if err != nil {
			return err
		}
		defer e.workers.Return(w)
		return w.Execute(ctx, sub)
	}

	stage, err := e.stage()
	if err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	w := NewWorker(uint64(sub.Position), stage)
	defer func() {
		if err := w.Stop(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("failed to stop stage", zap.Int("position", sub.Position), zap.Error(err))
		}
	}()
	if err := w.Start(ctx); err != nil {
		return err
	}
	return w.Execute(ctx, sub)
}

// Close stops the scheduler, waiting for running tasks up to the grace period, then stops the pooled workers.
// Execute fails with ErrEngineClosed afterwards. Closing twice does nothing.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.scheduler.Close()
	if e.workers != nil {
		e.workers.Close(ctx)
	}
	e.log.Debug("split-join engine closed")
	return err
}

// invocation is the state of one Execute call.
type invocation struct {
	msg   *Message
	log   *zap.Logger
	span  trace.Span
	start time.Time
	phase Phase
}

func (inv *invocation) enter(p Phase) {
	inv.log.Debug("split-join phase", zap.Stringer("from", inv.phase), zap.Stringer("to", p))
	inv.span.AddEvent(p.String())
	inv.phase = p
}
