package splitjoin

import (
	"sync"

	"go.uber.org/zap"
)

// Failure is one error recorded for a sub-unit.
type Failure struct {
	Position int
	Err      error
}

// FailureCollector gathers the errors raised by concurrent tasks in recording order.
// Only the first one is meant to be surfaced, the others are logged.
type FailureCollector struct {
	mu       sync.Mutex
	failures []Failure
}

// Record appends err for the sub-unit at position. Nil errors are ignored. Safe for concurrent use.
func (c *FailureCollector) Record(position int, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, Failure{Position: position, Err: err})
}

// First returns the earliest recorded error, or nil.
func (c *FailureCollector) First() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) == 0 {
		return nil
	}
	return c.failures[0].Err
}

// Len returns the number of recorded failures.
func (c *FailureCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failures)
}

// Failures returns a copy of every recorded failure.
func (c *FailureCollector) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.failures...)
}

// LogSuppressed logs every failure but the first one.
func (c *FailureCollector) LogSuppressed(log *zap.Logger, fields ...zap.Field) {
	failures := c.Failures()
	if len(failures) < 2 {
		return
	}
	log = log.With(fields...)
	for _, f := range failures[1:] {
		log.Warn("suppressed sub-unit failure", zap.Int("position", f.Position), zap.Error(f.Err))
	}
}
