/*
splitjoin processes a message by splitting it into sub-units, running a stage on every sub-unit concurrently on a
bounded set of goroutines, then joining the processed sub-units back into the message.

An Engine is built from a Dispatch (a Splitter and an Aggregator) and a StageFactory. Each call to Execute goes
through the same phases:

- The Splitter produces a Sequence of messages. Each of them becomes a SubUnit tagged with its 1-based position.
- Every sub-unit is submitted as a task to the Scheduler, a goroutine pool bounded by MaxThreads.
- All the tasks share a single deadline. Every sub-unit is attempted even when some of them fail.
- When all the sub-units succeeded, the Aggregator joins them into the message, which then carries the number of
sub-units. Otherwise the message is left unchanged and the first recorded failure is returned, the others being logged.

Two variants exist:

- Unpooled (default): every task creates its own stage, starts it, runs it once, then stops it.
- Pooled: a WorkerPool keeps at most MaxThreads long-lived workers, shared by every task of every invocation. A task
borrows a worker, runs the stage, then gives the worker back. Workers are created lazily (or all at once with WarmStart),
and idle ones are stopped after IdleTimeout.

Sizing MaxThreads is a trade-off between latency and resources. If a stage requires low CPU but waits a lot (API
call), a large pool may be a good idea. If a stage requires high CPU and has no wait, sizing the pool to the cpu count
may be a good idea. As for any performance tuning, you should try and tune: see the benchmark package.

Errors are classified with sentinels (ErrTask, ErrTaskPanic, ErrTimeout, ErrSplit, ErrJoin...). Position and RootCause
give back the failing sub-unit and the stage error.
*/
package splitjoin
