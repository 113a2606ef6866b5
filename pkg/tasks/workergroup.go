package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fimoengine/fimo/internal/ferr"
)

// lane is one worker's local priority run queue. Workers drain their
// own lane first and steal from a sibling lane only when theirs is
// empty, the way a randomized work-stealing scheduler avoids
// contending on a single global queue.
type lane struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue *runQueue
}

// WorkerGroup runs a fixed pool of worker goroutines, each draining its
// own lane with stealing from its siblings when idle, sharing one
// StackPool to bound concurrently-running tasks and one ParkingLot for
// the sync primitives built on top. Workers run under
// golang.org/x/sync/errgroup and Close waits on it for all of them,
// the way kernel/threads/supervisor/coordinator.go supervises its peer
// fan-out. No worker returns an error (a task's panic is recovered
// inside that task's run), so Close always returns nil.
//
// A task's goroutine, once started, never returns to a lane: Go gives
// us no way to swap a continuation off one OS-level call stack and
// back onto another the way a cooperative scheduler hands a suspended
// task between worker threads. Every cooperative suspension
// point (Context.Yield/WaitUntil/WaitOnCommandBuffer) therefore blocks
// that same goroutine inline instead, and the documented "at most N
// workers run concurrently" bound is enforced not by a literal
// fixed-size thread pool but by the StackPool's semaphore, which a
// suspended task releases before blocking and must re-acquire before
// it resumes - see DESIGN.md.
type WorkerGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	lanes     []*lane
	nextIndex atomic.Uint32

	stackPool *StackPool
	lot       *ParkingLot

	timeoutMu   sync.Mutex
	timeouts    *timeoutHeap
	timeoutWake chan struct{}
	closeCh     chan struct{}

	closed atomic.Bool
}

// NewWorkerGroup starts numWorkers worker goroutines (one lane each),
// admitting at most stackCapacity tasks running concurrently.
func NewWorkerGroup(numWorkers int, stackCapacity int64, metrics StackPoolMetrics) *WorkerGroup {
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	g := &WorkerGroup{
		ctx:         egCtx,
		cancel:      cancel,
		eg:          eg,
		stackPool:   NewStackPool(stackCapacity, metrics),
		lot:         NewParkingLot(),
		timeouts:    newTimeoutHeap(),
		timeoutWake: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	for i := 0; i < numWorkers; i++ {
		l := &lane{queue: newRunQueue()}
		l.cond = sync.NewCond(&l.mu)
		g.lanes = append(g.lanes, l)
	}

	for i := range g.lanes {
		idx := i
		g.eg.Go(func() error {
			g.workerLoop(idx)
			return nil
		})
	}
	g.eg.Go(func() error {
		g.timeoutLoop()
		return nil
	})
	return g
}

// ParkingLot returns the group's shared parking lot, used by
// pkg/tasks/sync's Mutex, RwLock and Condvar.
func (g *WorkerGroup) ParkingLot() *ParkingLot { return g.lot }

// StackPool returns the group's shared stack pool.
func (g *WorkerGroup) StackPool() *StackPool { return g.stackPool }

// NewCommandBuffer creates a command buffer whose tasks run on this
// group.
func (g *WorkerGroup) NewCommandBuffer() *CommandBuffer { return NewCommandBuffer(g) }

// Spawn schedules fn as a standalone task with no owning command
// buffer and no dependencies; its result is retrieved with Task.Wait.
func (g *WorkerGroup) Spawn(priority Priority, fn Func) *Task {
	t, _ := g.RegisterTask(priority, fn, nil, nil)
	return t
}

// RegisterTask registers fn to run once every task in waitOn has
// finished: the task becomes Blocked if it already carries a pending
// RequestBlockTask, otherwise it is registered as a waiter on every
// not-yet-finished task in waitOn and only becomes Runnable (and gets
// dispatched to a worker lane) once all of them have completed.
func (g *WorkerGroup) RegisterTask(priority Priority, fn Func, cb *CommandBuffer, waitOn []*Task) (*Task, error) {
	idx := g.nextIndex.Add(1)
	t := newTask(ID{Index: idx}, priority, fn, cb, g)
	return g.registerPrebuilt(t, waitOn)
}

// registerPrebuilt runs register_task's dependency/request bookkeeping
// against an already-constructed task, so tests can exercise the
// Blocked-at-registration path by setting a pending request on t before
// it is ever handed to the scheduler.
func (g *WorkerGroup) registerPrebuilt(t *Task, waitOn []*Task) (*Task, error) {
	switch t.PendingRequest() {
	case RequestAbortTask:
		return nil, ferr.New(ferr.CodeInvalidArgument, "cannot register a task with a pending abort request")
	case RequestBlockTask:
		t.ClearRequest()
		t.setScheduleStatus(SchedBlocked)
		return t, nil
	}

	// t.mu is held until depsRemaining and the Waiting status are set,
	// so a dependency that finishes meanwhile blocks in onTaskFinished
	// instead of decrementing a count that is not set yet.
	pending := 0
	t.mu.Lock()
	for _, dep := range waitOn {
		if dep == nil {
			continue
		}
		dep.mu.Lock()
		switch dep.ScheduleStatus() {
		case SchedFinished, SchedAborted:
			dep.mu.Unlock()
			continue
		default:
			dep.waiters = append(dep.waiters, t)
			dep.mu.Unlock()
			pending++
		}
	}

	if pending > 0 {
		t.depsRemaining = pending
		t.setScheduleStatus(SchedWaiting)
	}
	t.mu.Unlock()

	if pending == 0 {
		g.makeRunnable(t)
	}
	return t, nil
}

// Unblock releases a task registered while it carried a pending
// RequestBlockTask, making it runnable now that whatever held it back
// has cleared.
func (g *WorkerGroup) Unblock(t *Task) {
	if t.ScheduleStatus() == SchedBlocked {
		g.makeRunnable(t)
	}
}

// dispatch hands a never-yet-started task to a worker lane: the
// command buffer's pinned worker if SetWorker was called, otherwise
// round-robin across lanes by task index.
func (g *WorkerGroup) dispatch(t *Task) {
	t.everStarted.Store(true)
	idx := -1
	if t.cmdBuffer != nil {
		if w := t.cmdBuffer.workerAffinity(); w >= 0 && int(w) < len(g.lanes) {
			idx = int(w)
		}
	}
	if idx < 0 {
		idx = int(t.id.Index) % len(g.lanes)
	}
	t.setScheduleStatus(SchedScheduled)

	l := g.lanes[idx]
	l.mu.Lock()
	l.queue.push(t)
	l.mu.Unlock()
	l.cond.Signal()
}

// makeRunnable transitions t to Runnable and, depending on whether it
// has ever started running, either dispatches it to a lane (never
// started) or signals its own parked goroutine directly (resuming
// after a yield/timeout/dependency wait).
func (g *WorkerGroup) makeRunnable(t *Task) {
	t.setScheduleStatus(SchedRunnable)
	if t.everStarted.Load() {
		g.wakeResumed(t)
		return
	}
	g.dispatch(t)
}

// wakeResumed signals an already-started task's own parked goroutine.
// resumeCh is buffered 1, so this never blocks even if the receiver
// hasn't reached its <-resumeCh yet.
func (g *WorkerGroup) wakeResumed(t *Task) {
	t.setScheduleStatus(SchedRunnable)
	t.resumeCh <- struct{}{}
}

// scheduleTimeout registers t to be woken at (or after) at, implementing
// the sleep/timeout heap named by the task core (Yield's deadline,
// WaitUntil, sleep_for).
func (g *WorkerGroup) scheduleTimeout(t *Task, at time.Time) {
	g.timeoutMu.Lock()
	g.timeouts.push(t, at.UnixNano())
	g.timeoutMu.Unlock()
	select {
	case g.timeoutWake <- struct{}{}:
	default:
	}
}

// timeoutLoop is the event loop's timeout-firing half: a single
// goroutine that sleeps until the earliest pending deadline (or is
// woken early by scheduleTimeout inserting a sooner one) and then
// makes every expired task runnable again.
func (g *WorkerGroup) timeoutLoop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		g.timeoutMu.Lock()
		var d time.Duration
		if e, ok := g.timeouts.peek(); ok {
			d = time.Until(time.Unix(0, e.at))
			if d < 0 {
				d = 0
			}
		} else {
			d = time.Hour
		}
		g.timeoutMu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-g.closeCh:
			return
		case <-timer.C:
			g.fireExpiredTimeouts()
		case <-g.timeoutWake:
		}
	}
}

func (g *WorkerGroup) fireExpiredTimeouts() {
	now := time.Now().UnixNano()
	var ready []*Task
	g.timeoutMu.Lock()
	for {
		e, ok := g.timeouts.peek()
		if !ok || e.at > now {
			break
		}
		g.timeouts.pop()
		ready = append(ready, e.task)
	}
	g.timeoutMu.Unlock()

	for _, t := range ready {
		g.makeRunnable(t)
	}
}

// workerLoop drains lane idx, stealing from sibling lanes whenever its
// own is empty, until the group is closed and both its own lane and
// every sibling are drained.
func (g *WorkerGroup) workerLoop(idx int) {
	self := g.lanes[idx]
	for {
		self.mu.Lock()
		if self.queue.len() > 0 {
			t, _ := self.queue.pop()
			self.mu.Unlock()
			g.runTask(idx, t)
			continue
		}
		self.mu.Unlock()

		if t := g.steal(idx); t != nil {
			g.runTask(idx, t)
			continue
		}

		self.mu.Lock()
		for self.queue.len() == 0 && !g.closed.Load() {
			self.cond.Wait()
		}
		done := self.queue.len() == 0 && g.closed.Load()
		self.mu.Unlock()
		if done {
			return
		}
	}
}

// steal looks for work on a sibling lane, visiting them in round-robin
// order starting just after idx so repeated steal attempts don't all
// hammer the same victim.
func (g *WorkerGroup) steal(idx int) *Task {
	for i := 1; i < len(g.lanes); i++ {
		j := (idx + i) % len(g.lanes)
		victim := g.lanes[j]
		victim.mu.Lock()
		if victim.queue.len() > 0 {
			t, _ := victim.queue.pop()
			victim.mu.Unlock()
			return t
		}
		victim.mu.Unlock()
	}
	return nil
}

func (g *WorkerGroup) runTask(workerID int, t *Task) {
	t.worker.Store(int64(workerID))
	t.setScheduleStatus(SchedProcessing)

	stack, err := g.stackPool.Acquire(g.ctx)
	if err != nil {
		t.worker.Store(-1)
		t.finish(err)
		g.onTaskFinished(t)
		return
	}
	t.stack = stack
	t.setRunStatus(RunRunning)

	ctx := &Context{task: t, commandBuffer: t.cmdBuffer}
	runErr := g.safeRun(ctx, t)

	if t.stack != nil {
		t.stack.Release()
		t.stack = nil
	}
	t.worker.Store(-1)
	t.finish(runErr)
	g.onTaskFinished(t)
}

func (g *WorkerGroup) safeRun(ctx *Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.panicking.Store(true)
			err = ferr.Newf(ferr.CodeFailedPrecondition, "task panicked: %v", r)
			t.panicking.Store(false)
		}
	}()
	return t.fn(ctx)
}

// onTaskFinished implements UnblockTask: it decrements every
// dependency waiter's remaining count and, for any waiter that just
// reached zero, makes it runnable; it also reports completion to the
// owning command buffer, if any (UnblockCommandBuffer, driven from
// CommandBuffer.taskDone).
func (g *WorkerGroup) onTaskFinished(t *Task) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	for _, w := range waiters {
		w.mu.Lock()
		w.depsRemaining--
		ready := w.depsRemaining == 0 && w.ScheduleStatus() == SchedWaiting
		w.mu.Unlock()
		if ready {
			g.makeRunnable(w)
		}
	}

	if t.cmdBuffer != nil {
		t.cmdBuffer.taskDone(t.ScheduleStatus() == SchedAborted)
	}
}

// Close marks the group closed and wakes every worker; each worker runs
// the work still queued on its lane before it exits. Close also stops
// the timeout loop, waits for every worker to return, and only then
// cancels the group's context. A second call is a no-op.
func (g *WorkerGroup) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, l := range g.lanes {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	}
	close(g.closeCh)
	err := g.eg.Wait()
	g.cancel()
	return err
}
