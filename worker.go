package splitjoin

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WorkerState is the lifecycle state of a Worker.
type WorkerState int

const (
	WorkerCreated WorkerState = iota
	WorkerStarted
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerCreated:
		return "created"
	case WorkerStarted:
		return "started"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// Worker owns exactly one Stage and drives its lifecycle. Only a started worker executes sub-units.
//
// A Worker does no locking: a pool hands it to one borrower at a time.
type Worker struct {
	id       uint64
	stage    Stage
	state    WorkerState
	lastUsed time.Time
}

// NewWorker wraps stage in a Worker in the created state.
func NewWorker(id uint64, stage Stage) *Worker {
	return &Worker{id: id, stage: stage, state: WorkerCreated, lastUsed: time.Now()}
}

// ID returns the worker identifier, unique within its pool.
func (w *Worker) ID() uint64 { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return w.state }

// Start initialises and starts the stage. Starting a started worker does nothing.
// A stopped worker can't be started again.
func (w *Worker) Start(ctx context.Context) error {
	switch w.state {
	case WorkerStarted:
		return nil
	case WorkerStopped:
		return fmt.Errorf("start worker %d: %w", w.id, ErrWorkerNotStarted)
	}
	if err := w.stage.Init(ctx); err != nil {
		return fmt.Errorf("init worker %d: %w", w.id, err)
	}
	if err := w.stage.Start(ctx); err != nil {
		return fmt.Errorf("start worker %d: %w", w.id, err)
	}
	w.state = WorkerStarted
	return nil
}

// Execute runs the stage on sub.
func (w *Worker) Execute(ctx context.Context, sub *SubUnit) error {
	if w.state != WorkerStarted {
		return fmt.Errorf("worker %d is %s: %w", w.id, w.state, ErrWorkerNotStarted)
	}
	defer func() { w.lastUsed = time.Now() }()
	return w.stage.Execute(ctx, sub)
}

// Stop stops then closes the stage. Both are always attempted and the worker ends stopped even on error.
// Stopping a stopped worker does nothing.
func (w *Worker) Stop(ctx context.Context) error {
	if w.state == WorkerStopped {
		return nil
	}
	started := w.state == WorkerStarted
	w.state = WorkerStopped

	var stopErr error
	if started {
		stopErr = w.stage.Stop(ctx)
	}
	return errors.Join(stopErr, w.stage.Close())
}

// Valid reports whether the worker may be handed out again.
func (w *Worker) Valid() bool {
	if w.state != WorkerStarted {
		return false
	}
	if v, ok := w.stage.(Validator); ok {
		return v.Valid()
	}
	return true
}
