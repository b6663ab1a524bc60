package splitjoin

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// Stage is the processing step run against every sub-unit.
//
// The four lifecycle phases are mandatory and always called in order: Init, Start, then any number of Execute, then
// Stop and Close. A Stage is not safe for concurrent use: the engine never calls Execute on the same instance from two
// goroutines at once.
type Stage interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Execute(ctx context.Context, sub *SubUnit) error
	Stop(ctx context.Context) error
	Close() error
}

// Prototype is a Stage able to produce an independent copy of itself. Unpooled engines clone their prototype for
// every sub-unit.
type Prototype interface {
	Stage
	Clone() Stage
}

// Validator may be implemented by a Stage to tell a pool it must not be reused anymore.
type Validator interface {
	Valid() bool
}

// StageFactory builds a new, not yet initialised, Stage.
type StageFactory func() (Stage, error)

// FromPrototype returns a factory cloning p on each call.
func FromPrototype(p Prototype) StageFactory {
	if p == nil {
		return nil
	}
	return func() (Stage, error) {
		return p.Clone(), nil
	}
}

// StageFunc adapts a plain function to a stateless Stage. Its lifecycle methods do nothing and Clone returns itself.
type StageFunc func(ctx context.Context, sub *SubUnit) error

// Init implements Stage.
func (f StageFunc) Init(context.Context) error { return nil }

// Start implements Stage.
func (f StageFunc) Start(context.Context) error { return nil }

// Execute implements Stage.
func (f StageFunc) Execute(ctx context.Context, sub *SubUnit) error { return f(ctx, sub) }

// Stop implements Stage.
func (f StageFunc) Stop(context.Context) error { return nil }

// Close implements Stage.
func (f StageFunc) Close() error { return nil }

// Clone implements Prototype.
func (f StageFunc) Clone() Stage { return f }

// AsStages is an helper function to turn a list of functions into stages.
func AsStages(funcs ...func(context.Context, *SubUnit) error) []Stage {
	return lo.Map(funcs, func(f func(context.Context, *SubUnit) error, _ int) Stage {
		return StageFunc(f)
	})
}

// chain runs several stages one after the other on the same sub-unit.
type chain []Stage

// Chain merges several stages into one. Init, Start and Execute walk the stages in order, Stop and Close walk them
// backwards. Execute stops at the first failing stage.
//
// The chain is itself a Prototype: cloning it clones every stage which is a Prototype and shares the others.
func Chain(stages ...Stage) Prototype {
	return chain(stages)
}

func (c chain) Init(ctx context.Context) error {
	for i, s := range c {
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("init stage %d: %w", i, err)
		}
	}
	return nil
}

func (c chain) Start(ctx context.Context) error {
	for i, s := range c {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start stage %d: %w", i, err)
		}
	}
	return nil
}

func (c chain) Execute(ctx context.Context, sub *SubUnit) error {
	for _, s := range c {
		if err := s.Execute(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) Stop(ctx context.Context) error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Stop(ctx); err != nil && first == nil {
			first = fmt.Errorf("stop stage %d: %w", i, err)
		}
	}
	return first
}

func (c chain) Close() error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil && first == nil {
			first = fmt.Errorf("close stage %d: %w", i, err)
		}
	}
	return first
}

func (c chain) Valid() bool {
	return lo.EveryBy(c, func(s Stage) bool {
		v, ok := s.(Validator)
		return !ok || v.Valid()
	})
}

func (c chain) Clone() Stage {
	return chain(lo.Map(c, func(s Stage, _ int) Stage {
		if p, ok := s.(Prototype); ok {
			return p.Clone()
		}
		return s
	}))
}
