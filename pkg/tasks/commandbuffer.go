package tasks

import (
	"sync"
	"sync/atomic"

	"github.com/fimoengine/fimo/internal/ferr"
)

// BufferHandle is an opaque reference to a command buffer, obtained
// via CommandBuffer.Handle, usable from a different buffer's
// WaitOnCommandBuffer call to suspend until it completes.
type BufferHandle struct {
	buf *CommandBuffer
}

// CommandBuffer groups a batch of spawned tasks under one waitable
// unit. Aborting a command buffer requests abort on every task it
// currently owns, but does not reach into any nested command buffer a
// child task itself created: only a command buffer's own abort flag
// surfaces from its own Join/WaitOnCommandBuffer call, and every
// spawned task still runs to completion (cooperatively, at its own
// next check point) rather than being torn down mid-execution.
type CommandBuffer struct {
	group *WorkerGroup

	mu              sync.Mutex
	defaultPriority Priority
	defaultWorker   int64

	tasks   []*Task
	pending int
	sealed  bool

	completed      bool
	abortRequested atomic.Bool
	aborted        atomic.Bool
	waiters        []chan struct{}
}

// NewCommandBuffer creates an empty command buffer whose tasks are
// scheduled through group.
func NewCommandBuffer(group *WorkerGroup) *CommandBuffer {
	return &CommandBuffer{group: group, defaultWorker: -1, defaultPriority: PriorityNormal}
}

// Handle returns a reference to this buffer that a different buffer's
// WaitOnCommandBuffer call can wait on.
func (cb *CommandBuffer) Handle() BufferHandle { return BufferHandle{buf: cb} }

// SetStackSize is presently advisory: the stack pool admits tasks
// uniformly regardless of requested size (it is capacity-bounded, not
// size-bounded), but the setting is validated so a future sized pool
// has somewhere to read it from.
func (cb *CommandBuffer) SetStackSize(n int) error {
	if n < 0 {
		return ferr.New(ferr.CodeInvalidArgument, "stack size must be non-negative")
	}
	return nil
}

// SetWorker pins tasks spawned after this call to a specific worker
// lane instead of letting round-robin dispatch assign one. Passing a
// negative id clears the pin.
func (cb *CommandBuffer) SetWorker(workerID int64) error {
	if workerID >= 0 && int(workerID) >= len(cb.group.lanes) {
		return ferr.Newf(ferr.CodeInvalidArgument, "worker id %d is out of range", workerID)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.defaultWorker = workerID
	return nil
}

func (cb *CommandBuffer) workerAffinity() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.defaultWorker
}

// SetPriority changes the priority used for tasks spawned after this
// call.
func (cb *CommandBuffer) SetPriority(p Priority) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.defaultPriority = p
}

// SpawnTask schedules fn as a new task owned by this command buffer.
// Calling it after Finish/Join has sealed the buffer is a caller bug.
func (cb *CommandBuffer) SpawnTask(fn Func) *Task {
	cb.mu.Lock()
	if cb.sealed {
		cb.mu.Unlock()
		panic("fimo/tasks: SpawnTask called on a sealed command buffer")
	}
	priority := cb.defaultPriority
	cb.pending++
	cb.mu.Unlock()

	t, err := cb.group.RegisterTask(priority, fn, cb, nil)
	if err != nil {
		// RegisterTask only rejects a task registered with a pending
		// abort request, which a freshly created task never carries.
		panic(err)
	}

	cb.mu.Lock()
	cb.tasks = append(cb.tasks, t)
	cb.mu.Unlock()
	return t
}

// requestAbortAll asks every currently-tracked task to abort. Tasks
// that have already finished are unaffected; tasks not yet started
// pick up the request the first time they're polled.
func (cb *CommandBuffer) requestAbortAll() {
	cb.mu.Lock()
	tasks := append([]*Task(nil), cb.tasks...)
	cb.mu.Unlock()
	for _, t := range tasks {
		t.RequestAbort()
	}
}

// RequestAbort marks the command buffer aborted and asks every task it
// owns to stop at its next check point.
func (cb *CommandBuffer) RequestAbort() {
	cb.abortRequested.Store(true)
	cb.aborted.Store(true)
	cb.requestAbortAll()
}

// IsAborted reports whether RequestAbort has been called on this
// command buffer specifically (not on any ancestor, descendant, or
// individually-aborted task).
func (cb *CommandBuffer) IsAborted() bool { return cb.abortRequested.Load() }

// taskDone is called by the worker group when one of this buffer's
// tasks finishes (UnblockCommandBuffer's per-task half); once the
// buffer is sealed and every owned task has reported in, the buffer is
// complete and every registered waiter is woken.
func (cb *CommandBuffer) taskDone(taskAborted bool) {
	cb.mu.Lock()
	cb.pending--
	if taskAborted {
		cb.aborted.Store(true)
	}
	done := cb.sealed && cb.pending == 0 && !cb.completed
	var waiters []chan struct{}
	if done {
		cb.completed = true
		waiters = cb.waiters
		cb.waiters = nil
	}
	cb.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Finish seals the buffer: SpawnTask may no longer be called on it,
// and once every currently-owned task has finished the buffer is
// complete, waking anything parked in WaitOnCommandBuffer(handle) or
// Join. Calling Finish more than once is harmless.
func (cb *CommandBuffer) Finish() {
	cb.mu.Lock()
	if cb.sealed {
		cb.mu.Unlock()
		return
	}
	cb.sealed = true
	done := cb.pending == 0 && !cb.completed
	var waiters []chan struct{}
	if done {
		cb.completed = true
		waiters = cb.waiters
		cb.waiters = nil
	}
	cb.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// completionChan returns a channel that closes once cb is complete,
// already closed if it completed before this call.
func (cb *CommandBuffer) completionChan() chan struct{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.completed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	cb.waiters = append(cb.waiters, ch)
	return ch
}

// Join seals the buffer (if Finish wasn't already called) and blocks
// until every task spawned on it has finished, then returns a combined
// error for the individually-failed tasks, or CodeCanceled if any task
// aborted or RequestAbort was called on this buffer. This is the
// buffer's own self-wait, distinct from WaitOnCommandBuffer, which
// waits on a *different* buffer.
func (cb *CommandBuffer) Join() error {
	cb.Finish()
	<-cb.completionChan()

	cb.mu.Lock()
	tasks := append([]*Task(nil), cb.tasks...)
	cb.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.err; err != nil {
			errs = append(errs, err)
		}
	}
	if cb.aborted.Load() {
		errs = append(errs, ferr.New(ferr.CodeCanceled, "command buffer aborted"))
	}
	return ferr.Combine(errs...)
}

// WaitOnCommandBuffer suspends the caller until h completes: h must
// reference a different, already-registered buffer belonging to the
// same worker group. If h
// has already completed this returns immediately. It is the shared
// mechanism behind both the command-buffer-level "suspend progression
// until h completes" command and Context.WaitOnCommandBuffer's
// task-level suspension point - whichever goroutine calls it simply
// blocks until h is done.
func (cb *CommandBuffer) WaitOnCommandBuffer(h BufferHandle) error {
	if h.buf == nil {
		return ferr.New(ferr.CodeInvalidArgument, "nil command buffer handle")
	}
	if h.buf == cb {
		return ferr.New(ferr.CodeInvalidArgument, "a command buffer cannot wait on itself")
	}
	if h.buf.group != cb.group {
		return ferr.New(ferr.CodeInvalidArgument, "command buffer belongs to a different worker group")
	}

	<-h.buf.completionChan()
	if h.buf.aborted.Load() {
		return ferr.New(ferr.CodeCanceled, "awaited command buffer aborted")
	}
	return nil
}
