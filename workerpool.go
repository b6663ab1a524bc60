package splitjoin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithMaxWait bounds how long Borrow waits for a free worker. Zero, the default, waits indefinitely.
func WithMaxWait(d time.Duration) PoolOption {
	return func(p *WorkerPool) { p.maxWait = d }
}

// WithIdleTimeout stops workers which stayed idle longer than d. Zero disables eviction.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *WorkerPool) { p.idleTimeout = d }
}

// WithEvictionInterval sets how often idle workers are checked. It defaults to half the idle timeout.
func WithEvictionInterval(d time.Duration) PoolOption {
	return func(p *WorkerPool) { p.evictEvery = d }
}

// WithPoolLogger sets the logger used by the pool.
func WithPoolLogger(log *zap.Logger) PoolOption {
	return func(p *WorkerPool) { p.log = log }
}

// WithPoolMetrics sets the collectors updated by the pool.
func WithPoolMetrics(m *Metrics) PoolOption {
	return func(p *WorkerPool) { p.metrics = m }
}

// PoolStats is a snapshot of the pool occupation.
type PoolStats struct {
	Capacity int
	Live     int
	Idle     int
	Busy     int
}

// WorkerPool is a bounded, blocking pool of started workers.
//
// The pool owns exactly capacity slots. A slot either holds an idle worker or is empty, in which case the next
// borrower creates and starts a worker in it. Borrowing takes a slot, returning gives it back, so there are never
// more than capacity live workers.
//
// Workers are started with a context owned by the pool, cancelled by Close, so that a stage may keep it for as long
// as it lives.
type WorkerPool struct {
	factory     StageFactory
	capacity    int
	maxWait     time.Duration
	idleTimeout time.Duration
	evictEvery  time.Duration
	log         *zap.Logger
	metrics     *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan *Worker
	nextID atomic.Uint64
	live   atomic.Int64
	busy   atomic.Int64

	// mu serialises giving slots back with closing, so that no worker is put back once Close drained the slots.
	mu        sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	evictWG   sync.WaitGroup
}

// NewWorkerPool builds a pool of at most capacity workers built from factory.
// No worker is created until the first Borrow or WarmUp.
func NewWorkerPool(factory StageFactory, capacity int, opts ...PoolOption) (*WorkerPool, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: worker pool needs a stage factory", ErrInvalidConfig)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: worker pool capacity must be positive, got %d", ErrInvalidConfig, capacity)
	}
	p := &WorkerPool{
		factory:  factory,
		capacity: capacity,
		slots:    make(chan *Worker, capacity),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = orNop(p.log)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for range capacity {
		p.slots <- nil
	}

	if p.idleTimeout > 0 {
		if p.evictEvery <= 0 {
			p.evictEvery = p.idleTimeout / 2
		}
		p.evictWG.Add(1)
		go p.runEvictor()
	}
	return p, nil
}

// Capacity returns the maximum number of live workers.
func (p *WorkerPool) Capacity() int { return p.capacity }

// Stats returns the current occupation of the pool.
func (p *WorkerPool) Stats() PoolStats {
	live, busy := int(p.live.Load()), int(p.busy.Load())
	return PoolStats{
		Capacity: p.capacity,
		Live:     live,
		Idle:     live - busy,
		Busy:     busy,
	}
}

// Borrow hands out a started worker for exclusive use. It blocks until a slot is free, ctx is done, the pool is
// closed or the configured max wait elapses.
//
// The worker must be given back with Return whatever the outcome of its use.
func (p *WorkerPool) Borrow(ctx context.Context) (*Worker, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	var timeout <-chan time.Time
	if p.maxWait > 0 {
		timer := time.NewTimer(p.maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	var w *Worker
	select {
	case w = <-p.slots:
	case <-ctx.Done():
		return nil, fmt.Errorf("borrow worker: %w", ctx.Err())
	case <-timeout:
		return nil, fmt.Errorf("%w: no worker available after %s", ErrPoolExhausted, p.maxWait)
	case <-p.done:
		return nil, ErrPoolClosed
	}

	if p.closed.Load() {
		p.release(ctx, w)
		return nil, ErrPoolClosed
	}

	if w == nil {
		var err error
		if w, err = p.create(); err != nil {
			p.put(nil)
			return nil, err
		}
	}
	p.busy.Add(1)
	p.updateMetrics()
	return w, nil
}

// Return gives a borrowed worker back. Invalid workers are stopped and their slot is left empty, so a replacement is
// created on a later Borrow. Workers returned to a closed pool are stopped.
func (p *WorkerPool) Return(w *Worker) {
	if w == nil {
		return
	}
	p.busy.Add(-1)

	if !w.Valid() {
		p.log.Debug("discarding invalid worker", zap.Uint64("worker", w.ID()), zap.Stringer("state", w.State()))
		p.release(context.Background(), w)
	} else {
		w.lastUsed = time.Now()
		if !p.put(w) {
			p.release(context.Background(), w)
		}
	}
	p.updateMetrics()
}

// WarmUp creates and starts workers in every empty slot, so that the first tasks don't pay the start cost.
// Workers are started concurrently; the first start error is returned once every slot is back in the pool.
func (p *WorkerPool) WarmUp(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	taken := make([]*Worker, 0, p.capacity)
drain:
	for range p.capacity {
		select {
		case w := <-p.slots:
			taken = append(taken, w)
		default:
			break drain // remaining slots are borrowed
		}
	}

	var g errgroup.Group
	for i := range taken {
		if taken[i] != nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w, err := p.create()
			if err != nil {
				return err
			}
			taken[i] = w
			return nil
		})
	}
	err := g.Wait()

	for _, w := range taken {
		if !p.put(w) {
			p.release(context.WithoutCancel(ctx), w)
		}
	}
	p.updateMetrics()
	if err != nil {
		return fmt.Errorf("warm up worker pool: %w", err)
	}
	p.log.Debug("worker pool warmed up", zap.Int("live", int(p.live.Load())))
	return nil
}

// Close stops every idle worker now; borrowed workers are stopped when returned. The context the workers were
// started with is cancelled once the idle ones are stopped.
// Shutdown errors are logged and never prevent other workers from being stopped. Closing twice does nothing.
func (p *WorkerPool) Close(ctx context.Context) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		p.mu.Unlock()
		close(p.done)
		p.evictWG.Wait()

		defer p.cancel()
		for {
			select {
			case w := <-p.slots:
				p.release(ctx, w)
			default:
				p.updateMetrics()
				return
			}
		}
	})
}

// put gives w back to its slot, nil giving back an empty slot. It reports false once the pool is closed, the caller
// then still owns w.
func (p *WorkerPool) put(w *Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return false
	}
	p.slots <- w
	return true
}

func (p *WorkerPool) create() (*Worker, error) {
	stage, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}
	w := NewWorker(p.nextID.Add(1), stage)
	if err := w.Start(p.ctx); err != nil {
		if stopErr := w.Stop(p.ctx); stopErr != nil {
			p.log.Error("failed to clean up worker", zap.Uint64("worker", w.ID()), zap.Error(stopErr))
		}
		return nil, err
	}
	p.live.Add(1)
	p.log.Debug("worker started", zap.Uint64("worker", w.ID()))
	return w, nil
}

// release stops w, if any, and frees its slot unless the pool is closed.
func (p *WorkerPool) release(ctx context.Context, w *Worker) {
	if w != nil {
		if err := w.Stop(ctx); err != nil {
			p.log.Error("failed to stop worker", zap.Uint64("worker", w.ID()), zap.Error(err))
		}
		p.live.Add(-1)
	}
	p.put(nil)
}

func (p *WorkerPool) runEvictor() {
	defer p.evictWG.Done()

	ticker := time.NewTicker(p.evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evict()
		}
	}
}

// evict walks the idle slots once and stops workers unused for longer than the idle timeout.
func (p *WorkerPool) evict() {
	now := time.Now()
	for range len(p.slots) {
		var w *Worker
		select {
		case w = <-p.slots:
		default:
			return
		}
		if w != nil && now.Sub(w.lastUsed) >= p.idleTimeout {
			p.log.Debug("evicting idle worker", zap.Uint64("worker", w.ID()), zap.Duration("idle", now.Sub(w.lastUsed)))
			p.release(context.Background(), w)
			continue
		}
		if !p.put(w) {
			p.release(context.Background(), w)
		}
	}
	p.updateMetrics()
}

func (p *WorkerPool) updateMetrics() {
	p.metrics.setWorkers(int(p.live.Load()), int(p.busy.Load()))
}
