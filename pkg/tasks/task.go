// Package tasks implements the cooperative task core: tasks, a
// priority run queue, a bounded stack pool, command buffers, a
// keyed-wait parking lot, and the worker group/event loop that drives
// them. Grounded on the atomic-state and struct layout conventions of
// kernel/threads/foundation/types.go and
// kernel/threads/supervisor/coordinator.go; concurrency primitives
// wire golang.org/x/sync (semaphore, errgroup) and
// github.com/prometheus/client_golang for pool metrics.
package tasks

import (
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders runnable tasks in the run queue; higher runs first.
type Priority int32

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// ID identifies a task by slot index and a generation counter, so a
// stale ID referring to a reused slot is detectable instead of
// silently addressing the wrong task.
type ID struct {
	Index      uint32
	Generation uint32
}

// RunStatus is whether the task's body is actually executing right
// now, orthogonal to ScheduleStatus: a task can be Idle while still
// Waiting, Runnable, Scheduled or Processing, and is only ever Running
// while a worker holds its stack and is inside its Func.
type RunStatus int32

const (
	RunIdle RunStatus = iota
	RunRunning
	RunCompleted
)

// ScheduleStatus is where the task sits in the scheduler's pipeline,
// independent of RunStatus.
type ScheduleStatus int32

const (
	// SchedBlocked is set on a task registered with a pending
	// RequestBlockTask; it never reaches a run queue until explicitly
	// released.
	SchedBlocked ScheduleStatus = iota
	// SchedWaiting means the task is parked on a sleep/WaitUntil
	// deadline, on other tasks it was registered with (register_task's
	// wait_on), or on another command buffer (WaitOnCommandBuffer).
	SchedWaiting
	// SchedRunnable means nothing blocks the task from running but it
	// has not yet been placed in a worker's queue.
	SchedRunnable
	// SchedScheduled means the task has been handed to a worker's
	// local queue but hasn't begun executing yet.
	SchedScheduled
	// SchedProcessing means a worker currently owns the task, whether
	// or not its Func is actively on the stack this instant.
	SchedProcessing
	// SchedAborted is terminal: the task finished with a non-nil error
	// (its Func returned one or panicked, or no stack could be
	// acquired to run it).
	SchedAborted
	// SchedFinished is terminal: the task returned nil.
	SchedFinished
)

// Request is a pending out-of-band control request against a running
// task, set by a worker other than the one running the task and
// observed cooperatively by the task itself at its next yield point.
type Request int32

const (
	RequestNone Request = iota
	RequestBlockTask
	RequestAbortTask
)

// Func is a task body. It receives a *Context so it can cooperatively
// yield, check for an abort request, or spawn child work.
type Func func(ctx *Context) error

// Task is one schedulable unit of cooperative work. Status fields a
// worker or the owning command buffer touch
// concurrently are plain atomics rather than mutex-guarded, matching
// the lock-free style of the foundation package's epoch/queue
// primitives; the dependency bookkeeping below (depsRemaining,
// waiters) is mutated rarely enough that it sits behind a plain mutex
// instead.
type Task struct {
	id       ID
	priority Priority
	fn       Func
	group    *WorkerGroup

	runStatus      atomic.Int32
	scheduleStatus atomic.Int32
	request        atomic.Int32
	registered     atomic.Bool
	panicking      atomic.Bool
	everStarted    atomic.Bool
	worker         atomic.Int64 // -1 when not assigned to a worker

	cmdBuffer *CommandBuffer

	mu            sync.Mutex
	depsRemaining int
	waiters       []*Task

	// resumeCh is buffered 1: whoever makes the task runnable again
	// after it has already started (a timeout firing, a dependency
	// finishing, an immediate Yield) sends exactly once, and the
	// task's own goroutine - parked inside Context.Yield/WaitUntil -
	// receives it to continue on the same goroutine it started on,
	// since Go gives us no other way to resume a suspended stack.
	resumeCh chan struct{}
	stack    *Stack

	done chan struct{}
	err  error
}

func newTask(id ID, priority Priority, fn Func, cb *CommandBuffer, group *WorkerGroup) *Task {
	t := &Task{
		id:        id,
		priority:  priority,
		fn:        fn,
		group:     group,
		cmdBuffer: cb,
		resumeCh:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	t.worker.Store(-1)
	t.registered.Store(true)
	t.runStatus.Store(int32(RunIdle))
	return t
}

// ID returns the task's identity.
func (t *Task) ID() ID { return t.id }

// Priority returns the task's scheduling priority.
func (t *Task) Priority() Priority { return t.priority }

// RunStatus reads the current run state.
func (t *Task) RunStatus() RunStatus { return RunStatus(t.runStatus.Load()) }

func (t *Task) setRunStatus(s RunStatus) { t.runStatus.Store(int32(s)) }

// ScheduleStatus reads where the task currently sits in the scheduler
// pipeline.
func (t *Task) ScheduleStatus() ScheduleStatus { return ScheduleStatus(t.scheduleStatus.Load()) }

func (t *Task) setScheduleStatus(s ScheduleStatus) { t.scheduleStatus.Store(int32(s)) }

// Worker returns the id of the worker currently running this task, or
// -1 if it isn't assigned to one.
func (t *Task) Worker() int64 { return t.worker.Load() }

// RequestBlock records a block request unless another request is
// already pending, so it never replaces a pending abort. Only
// registration acts on it: a task registered while the request is
// pending starts out Blocked until WorkerGroup.Unblock; a task that is
// already running does not read it.
func (t *Task) RequestBlock() {
	t.request.CompareAndSwap(int32(RequestNone), int32(RequestBlockTask))
}

// RequestAbort asks the task to stop at its next cooperative check
// point. Abort takes precedence if both a block and an abort are
// requested concurrently.
func (t *Task) RequestAbort() { t.request.Store(int32(RequestAbortTask)) }

// ClearRequest cancels any pending block/abort request.
func (t *Task) ClearRequest() { t.request.Store(int32(RequestNone)) }

// PendingRequest returns the currently pending request, if any.
func (t *Task) PendingRequest() Request { return Request(t.request.Load()) }

// IsPanicking reports whether the task's body panicked and is
// currently unwinding through worker recovery.
func (t *Task) IsPanicking() bool { return t.panicking.Load() }

// Wait blocks until the task completes (successfully, by error, or by
// abort), returning its terminal error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func (t *Task) finish(err error) {
	t.err = err
	if err != nil {
		t.setScheduleStatus(SchedAborted)
	} else {
		t.setScheduleStatus(SchedFinished)
	}
	t.setRunStatus(RunCompleted)
	close(t.done)
}

// suspend releases the task's stack, runs arm (responsible for
// eventually making the task runnable again - scheduling a timeout,
// registering it as a dependency waiter, or signalling resumeCh right
// away), blocks until resumeCh delivers, then reacquires a stack
// before returning control to the task's Func.
func (t *Task) suspend(arm func()) {
	t.setRunStatus(RunIdle)
	if t.stack != nil {
		t.stack.Release()
		t.stack = nil
	}
	arm()
	<-t.resumeCh

	if stack, err := t.group.stackPool.Acquire(t.group.ctx); err == nil {
		t.stack = stack
	}
	t.setScheduleStatus(SchedProcessing)
	t.setRunStatus(RunRunning)
}

// Context is passed to a running task's Func, giving it access to its
// own identity and cooperative control points.
type Context struct {
	task          *Task
	commandBuffer *CommandBuffer
}

// Self returns the running task.
func (c *Context) Self() *Task { return c.task }

// CommandBuffer returns the command buffer that owns the running task,
// through which it can spawn children.
func (c *Context) CommandBuffer() *CommandBuffer { return c.commandBuffer }

// AbortRequested reports whether an abort has been requested for this
// task (Task.RequestAbort, which CommandBuffer.RequestAbort calls on
// every task it owns); task bodies should check this at loop boundaries and
// return promptly when true.
func (c *Context) AbortRequested() bool {
	return c.task.PendingRequest() == RequestAbortTask
}

// Yield suspends the calling task, releasing its stack. If deadline is
// non-zero and still in the future this behaves like
// WaitUntil(deadline); otherwise the task is made runnable again at
// once and continues on its own goroutine as soon as it reacquires a
// stack. It is not placed back on a worker's run queue.
func (c *Context) Yield(deadline time.Time) {
	if !deadline.IsZero() && deadline.After(time.Now()) {
		c.WaitUntil(deadline)
		return
	}
	t := c.task
	t.suspend(func() {
		t.group.wakeResumed(t)
	})
}

// WaitUntil suspends the calling task until the given time, registering
// it on the worker group's sleep/timeout heap.
func (c *Context) WaitUntil(at time.Time) {
	t := c.task
	t.setScheduleStatus(SchedWaiting)
	t.suspend(func() {
		t.group.scheduleTimeout(t, at)
	})
}

// Sleep suspends the calling task for d.
func (c *Context) Sleep(d time.Duration) {
	c.WaitUntil(time.Now().Add(d))
}

// WaitOnCommandBuffer suspends the calling task until h completes (the
// same validation and wake mechanism as CommandBuffer.WaitOnCommandBuffer,
// exposed here as one of the task's own suspension points).
func (c *Context) WaitOnCommandBuffer(h BufferHandle) error {
	t := c.task
	t.setScheduleStatus(SchedWaiting)
	if t.stack != nil {
		t.stack.Release()
		t.stack = nil
	}
	t.setRunStatus(RunIdle)

	err := c.commandBuffer.WaitOnCommandBuffer(h)

	if stack, acqErr := t.group.stackPool.Acquire(t.group.ctx); acqErr == nil {
		t.stack = stack
	}
	t.setScheduleStatus(SchedProcessing)
	t.setRunStatus(RunRunning)
	return err
}
