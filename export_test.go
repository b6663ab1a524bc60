package splitjoin

import "github.com/panjf2000/ants/v2"

// SchedulerPool returns the underlying goroutine pool.
func (s *Scheduler) SchedulerPool() *ants.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Scheduler returns the scheduler owned by the engine.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Workers returns the worker pool owned by the engine, nil when unpooled.
func (e *Engine) Workers() *WorkerPool {
	return e.workers
}

// Evict runs one eviction pass.
func (p *WorkerPool) Evict() {
	p.evict()
}
