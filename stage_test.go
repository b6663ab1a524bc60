package splitjoin_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fogfactory/splitjoin"
	"github.com/maxatome/go-testdeep/td"
)

// stepStage logs every lifecycle call as "<step> <name>" and fails the step named in failOn.
type stepStage struct {
	name   string
	log    *[]string
	failOn string
}

func (s *stepStage) step(step string) error {
	*s.log = append(*s.log, step+" "+s.name)
	if step == s.failOn {
		return fmt.Errorf("%s %s failed", step, s.name)
	}
	return nil
}

func (s *stepStage) Init(context.Context) error                        { return s.step("init") }
func (s *stepStage) Start(context.Context) error                       { return s.step("start") }
func (s *stepStage) Execute(context.Context, *splitjoin.SubUnit) error { return s.step("execute") }
func (s *stepStage) Stop(context.Context) error                        { return s.step("stop") }
func (s *stepStage) Close() error                                      { return s.step("close") }

func TestChain(t *testing.T) {
	ctx := context.Background()
	sub := splitjoin.NewSubUnit(splitjoin.NewMessage(nil, nil), 1)

	t.Run("success_lifecycle_order", func(t *testing.T) {
		// Arrange
		var log []string
		c := splitjoin.Chain(&stepStage{name: "a", log: &log}, &stepStage{name: "b", log: &log})

		// Act
		td.CmpNoError(t, c.Init(ctx))
		td.CmpNoError(t, c.Start(ctx))
		td.CmpNoError(t, c.Execute(ctx, sub))
		td.CmpNoError(t, c.Stop(ctx))
		td.CmpNoError(t, c.Close())

		// Assert
		td.Cmp(t, log, []string{
			"init a", "init b",
			"start a", "start b",
			"execute a", "execute b",
			"stop b", "stop a",
			"close b", "close a",
		})
	})

	t.Run("error_execute_stops_at_first_failure", func(t *testing.T) {
		// Arrange
		var log []string
		c := splitjoin.Chain(&stepStage{name: "a", log: &log, failOn: "execute"}, &stepStage{name: "b", log: &log})

		// Act
		err := c.Execute(ctx, sub)

		// Assert
		td.CmpString(t, err, "execute a failed")
		td.Cmp(t, log, []string{"execute a"})
	})

	t.Run("error_stop_attempts_every_stage", func(t *testing.T) {
		// Arrange
		var log []string
		c := splitjoin.Chain(&stepStage{name: "a", log: &log}, &stepStage{name: "b", log: &log, failOn: "stop"})

		// Act
		err := c.Stop(ctx)

		// Assert
		td.CmpString(t, err, "stop stage 1: stop b failed")
		td.Cmp(t, log, []string{"stop b", "stop a"})
	})

	t.Run("success_valid", func(t *testing.T) {
		// Arrange
		p := &probe{}
		fake := &fakeStage{probe: p}
		c := splitjoin.Chain(fake, splitjoin.StageFunc(nil))

		// Act & Assert
		td.CmpTrue(t, c.(splitjoin.Validator).Valid())
		fake.invalid.Store(true)
		td.CmpFalse(t, c.(splitjoin.Validator).Valid())
	})

	t.Run("success_clone", func(t *testing.T) {
		// Arrange
		p := &probe{}
		c := splitjoin.Chain(&fakeStage{probe: p}, splitjoin.StageFunc(func(context.Context, *splitjoin.SubUnit) error {
			return nil
		}))

		// Act
		clone := c.Clone()

		// Assert
		td.Cmp(t, p.created.Load(), int64(1), "prototypes are cloned")
		td.CmpNoError(t, clone.Execute(ctx, sub))
		td.Cmp(t, p.executed.Load(), int64(1))
	})
}

func TestStageFactory(t *testing.T) {
	t.Run("success_from_prototype", func(t *testing.T) {
		// Arrange
		p := &probe{}
		factory := splitjoin.FromPrototype(&fakeStage{probe: p})

		// Act
		a, errA := factory()
		b, errB := factory()

		// Assert
		td.CmpNoError(t, errA)
		td.CmpNoError(t, errB)
		td.CmpTrue(t, a != b, "every call clones")
		td.Cmp(t, p.created.Load(), int64(2))
	})

	t.Run("error_nil_prototype", func(t *testing.T) {
		td.CmpNil(t, splitjoin.FromPrototype(nil))
	})

	t.Run("success_as_stages", func(t *testing.T) {
		// Arrange
		boom := errors.New("boom")
		stages := splitjoin.AsStages(
			func(context.Context, *splitjoin.SubUnit) error { return nil },
			func(context.Context, *splitjoin.SubUnit) error { return boom },
		)

		// Act
		err := splitjoin.Chain(stages...).Execute(context.Background(), splitjoin.NewSubUnit(splitjoin.NewMessage(nil, nil), 1))

		// Assert
		td.Cmp(t, len(stages), 2)
		td.CmpErrorIs(t, err, boom)
	})
}
