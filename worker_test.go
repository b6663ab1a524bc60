package splitjoin_test

import (
	"context"
	"testing"

	"github.com/fogfactory/splitjoin"
	"github.com/maxatome/go-testdeep/td"
)

func TestWorker(t *testing.T) {
	ctx := context.Background()
	sub := splitjoin.NewSubUnit(splitjoin.NewMessage(nil, nil), 1)

	t.Run("success_lifecycle", func(t *testing.T) {
		// Arrange
		p := &probe{}
		w := splitjoin.NewWorker(7, &fakeStage{probe: p})

		// Act & Assert
		td.Cmp(t, w.ID(), uint64(7))
		td.Cmp(t, w.State(), splitjoin.WorkerCreated)

		td.CmpNoError(t, w.Start(ctx))
		td.CmpNoError(t, w.Start(ctx), "starting twice does nothing")
		td.Cmp(t, w.State(), splitjoin.WorkerStarted)
		td.Cmp(t, p.started.Load(), int64(1))
		td.CmpTrue(t, w.Valid())

		td.CmpNoError(t, w.Execute(ctx, sub))
		td.Cmp(t, p.executed.Load(), int64(1))

		td.CmpNoError(t, w.Stop(ctx))
		td.CmpNoError(t, w.Stop(ctx), "stopping twice does nothing")
		td.Cmp(t, w.State(), splitjoin.WorkerStopped)
		td.Cmp(t, p.stopped.Load(), int64(1))
		td.CmpFalse(t, w.Valid())
	})

	t.Run("error_execute_not_started", func(t *testing.T) {
		// Arrange
		p := &probe{}
		w := splitjoin.NewWorker(1, &fakeStage{probe: p})

		// Act
		err := w.Execute(ctx, sub)

		// Assert
		td.CmpErrorIs(t, err, splitjoin.ErrWorkerNotStarted)
		td.Cmp(t, p.executed.Load(), int64(0))
	})

	t.Run("error_restart_stopped", func(t *testing.T) {
		// Arrange
		w := splitjoin.NewWorker(1, &fakeStage{probe: &probe{}})
		td.Require(t).CmpNoError(w.Stop(ctx))

		// Act
		err := w.Start(ctx)

		// Assert
		td.CmpErrorIs(t, err, splitjoin.ErrWorkerNotStarted)
	})

	t.Run("error_start_failure", func(t *testing.T) {
		// Arrange
		var log []string
		w := splitjoin.NewWorker(1, &stepStage{name: "s", log: &log, failOn: "init"})

		// Act
		err := w.Start(ctx)

		// Assert
		td.CmpString(t, err, "init worker 1: init s failed")
		td.Cmp(t, w.State(), splitjoin.WorkerCreated)
	})

	t.Run("error_stop_always_closes", func(t *testing.T) {
		// Arrange
		var log []string
		w := splitjoin.NewWorker(1, &stepStage{name: "s", log: &log, failOn: "stop"})
		td.Require(t).CmpNoError(w.Start(ctx))

		// Act
		err := w.Stop(ctx)

		// Assert
		td.CmpString(t, err, "stop s failed")
		td.Cmp(t, log, []string{"init s", "start s", "stop s", "close s"})
		td.Cmp(t, w.State(), splitjoin.WorkerStopped)
	})

	t.Run("success_invalid_stage", func(t *testing.T) {
		// Arrange
		stage := &fakeStage{probe: &probe{}}
		w := splitjoin.NewWorker(1, stage)
		td.Require(t).CmpNoError(w.Start(ctx))

		// Act
		stage.invalid.Store(true)

		// Assert
		td.CmpFalse(t, w.Valid())
	})
}

func TestWorkerState(t *testing.T) {
	td.Cmp(t, splitjoin.WorkerCreated.String(), "created")
	td.Cmp(t, splitjoin.WorkerStarted.String(), "started")
	td.Cmp(t, splitjoin.WorkerStopped.String(), "stopped")
	td.Cmp(t, splitjoin.WorkerState(9).String(), "WorkerState(9)")
}
