package splitjoin_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fogfactory/splitjoin"
	"github.com/maxatome/go-testdeep/td"
)

// probe is shared by every copy of a fakeStage and counts their lifecycle.
type probe struct {
	created  atomic.Int64
	live     atomic.Int64
	maxLive  atomic.Int64
	started  atomic.Int64
	stopped  atomic.Int64
	executed atomic.Int64
}

func (p *probe) onStart() {
	p.started.Add(1)
	n := p.live.Add(1)
	for {
		m := p.maxLive.Load()
		if n <= m || p.maxLive.CompareAndSwap(m, n) {
			return
		}
	}
}

func (p *probe) onStop() {
	p.live.Add(-1)
	p.stopped.Add(1)
}

// factory returns a stage factory building fakeStages running exec.
func (p *probe) factory(exec splitjoin.StageFunc) splitjoin.StageFactory {
	return func() (splitjoin.Stage, error) {
		p.created.Add(1)
		return &fakeStage{probe: p, exec: exec}, nil
	}
}

// fakeStage is a stage which records its lifecycle in a probe and delegates Execute to exec.
type fakeStage struct {
	probe   *probe
	exec    splitjoin.StageFunc
	invalid atomic.Bool
}

func (s *fakeStage) Init(context.Context) error  { return nil }
func (s *fakeStage) Start(context.Context) error { s.probe.onStart(); return nil }
func (s *fakeStage) Stop(context.Context) error  { s.probe.onStop(); return nil }
func (s *fakeStage) Close() error                { return nil }
func (s *fakeStage) Valid() bool                 { return !s.invalid.Load() }

func (s *fakeStage) Execute(ctx context.Context, sub *splitjoin.SubUnit) error {
	s.probe.executed.Add(1)
	if s.exec == nil {
		return nil
	}
	return s.exec(ctx, sub)
}

func (s *fakeStage) Clone() splitjoin.Stage {
	s.probe.created.Add(1)
	return &fakeStage{probe: s.probe, exec: s.exec}
}

// contextStage keeps the context it was started with and fails to execute once that context is done.
type contextStage struct {
	mu       sync.Mutex
	startCtx context.Context
}

func (s *contextStage) Init(context.Context) error { return nil }
func (s *contextStage) Stop(context.Context) error { return nil }
func (s *contextStage) Close() error               { return nil }

func (s *contextStage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCtx = ctx
	return nil
}

func (s *contextStage) StartContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCtx
}

func (s *contextStage) Execute(context.Context, *splitjoin.SubUnit) error {
	if err := s.StartContext().Err(); err != nil {
		return fmt.Errorf("stage context: %w", err)
	}
	return nil
}

// splitN splits any message in n parts with payload "part-i".
func splitN(n int) splitjoin.Splitter {
	return splitjoin.SplitterFunc(func(_ context.Context, msg *splitjoin.Message) (splitjoin.Sequence, error) {
		parts := make([]*splitjoin.Message, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, msg.Derive([]byte(fmt.Sprintf("part-%d", i))))
		}
		return splitjoin.SliceSequence(parts...), nil
	})
}

// recorder is an aggregator joining payloads with "|" and remembering what it was given.
type recorder struct {
	mu       sync.Mutex
	calls    int
	subUnits []*splitjoin.SubUnit
	err      error
}

func (r *recorder) Join(_ context.Context, original *splitjoin.Message, subUnits []*splitjoin.SubUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.subUnits = subUnits
	if r.err != nil {
		original.Payload = []byte("partially joined")
		return r.err
	}
	parts := make([][]byte, 0, len(subUnits))
	for _, sub := range subUnits {
		parts = append(parts, sub.Payload)
	}
	original.Payload = bytes.Join(parts, []byte("|"))
	return nil
}

func (r *recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func InitEngine(t testing.TB, dispatch splitjoin.Dispatch, stage splitjoin.StageFactory, opts ...splitjoin.Option) *splitjoin.Engine {
	engine, err := splitjoin.New(dispatch, stage, opts...)
	td.Require(t).CmpNoError(err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine
}

func InitPool(t testing.TB, factory splitjoin.StageFactory, capacity int, opts ...splitjoin.PoolOption) *splitjoin.WorkerPool {
	pool, err := splitjoin.NewWorkerPool(factory, capacity, opts...)
	td.Require(t).CmpNoError(err)
	t.Cleanup(func() { pool.Close(context.Background()) })
	return pool
}
