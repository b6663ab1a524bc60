package splitjoin

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned at construction time when a mandatory collaborator is missing.
	ErrInvalidConfig = errors.New("invalid split-join configuration")
	// ErrSplit wraps any error raised while splitting the original message.
	ErrSplit = errors.New("split failed")
	// ErrTask wraps an error raised by a stage while processing a sub-unit.
	ErrTask = errors.New("sub-unit failed")
	// ErrTaskPanic is reported when a task panicked instead of returning.
	ErrTaskPanic = errors.New("sub-unit panicked")
	// ErrTimeout is reported for every task still unfinished when the batch deadline elapses.
	ErrTimeout = errors.New("batch deadline exceeded")
	// ErrJoin wraps any error raised by the aggregator.
	ErrJoin = errors.New("join failed")
	// ErrPoolExhausted is returned by Borrow when the configured wait elapses without a free worker.
	ErrPoolExhausted = errors.New("worker pool exhausted")
	// ErrPoolClosed is returned by Borrow once the pool is closed.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrWorkerNotStarted is returned when executing on a worker which is not started.
	ErrWorkerNotStarted = errors.New("worker not started")
	// ErrEngineClosed is returned by Execute once the engine is closed.
	ErrEngineClosed = errors.New("engine closed")
	// ErrNilMessage is returned by Execute when given no message.
	ErrNilMessage = errors.New("nil message")
)

// taskError keeps the position of the failing sub-unit next to the stage error.
// Both ErrTask and the stage error are reachable through errors.Is and errors.As.
type taskError struct {
	position int
	kind     error
	cause    error
}

func (e *taskError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: sub-unit %d", e.kind, e.position)
	}
	return fmt.Sprintf("%s: sub-unit %d: %s", e.kind, e.position, e.cause)
}

func (e *taskError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func newTaskError(position int, err error) error {
	kind := ErrTask
	switch {
	case errors.Is(err, ErrTimeout):
		kind = ErrTimeout
	case errors.Is(err, ErrTaskPanic):
		kind = ErrTaskPanic
	}
	if err == kind {
		err = nil
	}
	return &taskError{position: position, kind: kind, cause: err}
}

// Position returns the 1-based position of the sub-unit an error was raised for.
// It returns 0 when err does not carry a sub-unit position.
func Position(err error) int {
	var te *taskError
	if errors.As(err, &te) {
		return te.position
	}
	return 0
}

// RootCause follows single-error wrapping down to the innermost error.
// For sub-unit failures it follows the stage error rather than the sentinel.
func RootCause(err error) error {
	for err != nil {
		var next error
		switch e := err.(type) {
		case *taskError:
			if e.cause == nil {
				return e.kind
			}
			next = e.cause
		case interface{ Unwrap() []error }:
			errs := e.Unwrap()
			if len(errs) == 0 {
				return err
			}
			next = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		}
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}
