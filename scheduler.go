package splitjoin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// DefaultCachedExpiry is how long an idle goroutine of an unbounded scheduler is kept before being purged.
const DefaultCachedExpiry = time.Minute

// Task is one unit of work submitted to a Scheduler. The context is cancelled when the batch deadline elapses.
type Task func(ctx context.Context) error

// Outcome is the result of one task of a batch.
type Outcome struct {
	// Err is the task error, the recovered panic, ErrTimeout if the task did not finish before the deadline, or the
	// context error if the caller cancelled the batch.
	Err error
	// Finished is false when the batch returned before the task completed.
	Finished bool
}

// Scheduler runs batches of tasks on a goroutine pool.
//
// A bounded scheduler runs at most maxThreads tasks at once, extra tasks wait for a free goroutine. An unbounded
// scheduler grows on demand and purges idle goroutines after a while.
type Scheduler struct {
	pool      *ants.Pool
	grace     time.Duration
	log       *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewScheduler builds a scheduler. maxThreads <= 0 means unbounded. grace bounds how long Close waits for running
// tasks.
func NewScheduler(maxThreads int, grace time.Duration, log *zap.Logger, opts ...ants.Option) (*Scheduler, error) {
	log = orNop(log)
	opts = append([]ants.Option{ants.WithLogger(zap.NewStdLog(log))}, opts...)
	if maxThreads <= 0 {
		maxThreads = -1
		opts = append([]ants.Option{ants.WithExpiryDuration(DefaultCachedExpiry)}, opts...)
	}
	pool, err := ants.NewPool(maxThreads, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler: %w", ErrInvalidConfig, err)
	}
	return &Scheduler{pool: pool, grace: grace, log: log}, nil
}

// Bounded reports whether the scheduler has a fixed number of goroutines.
func (s *Scheduler) Bounded() bool {
	return s.pool.Cap() > 0
}

// Running returns the number of goroutines currently running tasks.
func (s *Scheduler) Running() int {
	return s.pool.Running()
}

// SubmitAll submits every task and blocks until all of them finished or the timeout elapsed, whichever comes
// first. A timeout <= 0 waits for ctx only.
//
// On expiry the tasks' context is cancelled, tasks not yet started are never started, and every unfinished task is
// reported with ErrTimeout. SubmitAll then returns without waiting for them: whatever they still do to their own
// data is up to them, and their late outcome is dropped.
func (s *Scheduler) SubmitAll(ctx context.Context, tasks []Task, timeout time.Duration) []Outcome {
	if len(tasks) == 0 {
		return nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	b := newBatch(len(tasks))
	go func() {
		for i, task := range tasks {
			if batchCtx.Err() != nil {
				return
			}
			err := s.pool.Submit(func() { b.finish(i, run(batchCtx, task)) })
			if err != nil {
				b.finish(i, fmt.Errorf("submit task: %w", err))
			}
		}
	}()

	select {
	case <-b.done:
		return b.seal(nil)
	case <-batchCtx.Done():
	}

	cause := batchCtx.Err()
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		if timeout <= 0 {
			cause = fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
		}
	} else {
		cause = fmt.Errorf("batch interrupted: %w", cause)
	}
	return b.seal(cause)
}

// Close stops accepting tasks and waits up to the grace period for running ones. Tasks still running afterwards
// are left alone.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		if s.grace <= 0 {
			s.pool.Release()
			return
		}
		if err := s.pool.ReleaseTimeout(s.grace); err != nil {
			s.log.Warn("scheduler did not drain within grace period", zap.Duration("grace", s.grace), zap.Error(err))
			s.closeErr = fmt.Errorf("close scheduler: %w", err)
		}
	})
	return s.closeErr
}

// run executes task and turns a panic into an error. A task picked up after its batch ended is not run.
func run(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if recovered := panics.Try(func() { err = task(ctx) }); recovered != nil {
		return fmt.Errorf("%w: %w", ErrTaskPanic, recovered.AsError())
	}
	return err
}

// batch collects the outcomes of one SubmitAll call.
type batch struct {
	mu       sync.Mutex
	outcomes []Outcome
	pending  int
	sealed   bool
	done     chan struct{}
}

func newBatch(n int) *batch {
	return &batch{outcomes: make([]Outcome, n), pending: n, done: make(chan struct{})}
}

func (b *batch) finish(i int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed || b.outcomes[i].Finished {
		return
	}
	b.outcomes[i] = Outcome{Err: err, Finished: true}
	b.pending--
	if b.pending == 0 {
		close(b.done)
	}
}

// seal freezes the outcomes. Unfinished tasks get cause as error.
func (b *batch) seal(cause error) []Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	result := make([]Outcome, len(b.outcomes))
	for i, o := range b.outcomes {
		if !o.Finished {
			o.Err = cause
		}
		result[i] = o
	}
	return result
}
