package tasks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/fimoengine/fimo/internal/ferr"
)

// StackPool bounds how many tasks may be concurrently in the "has a
// stack" (i.e. running-or-blocked, as opposed to merely queued) state,
// mirroring the original's fixed-size stack pool without actually
// managing raw stack memory — Go goroutines already own their stacks,
// so a Stack here is purely an admission ticket. Built on
// golang.org/x/sync/semaphore, whose internal waiter list already
// gives FIFO admission order.
type StackPool struct {
	sem      *semaphore.Weighted
	capacity int64

	inUse   prometheus.Gauge
	waiting prometheus.Gauge
}

// StackPoolMetrics are the prometheus collectors a StackPool reports
// through; callers register them once against their own registry.
type StackPoolMetrics struct {
	InUse   prometheus.Gauge
	Waiting prometheus.Gauge
}

// NewStackPool builds a pool admitting at most capacity concurrent
// stacks.
func NewStackPool(capacity int64, metrics StackPoolMetrics) *StackPool {
	p := &StackPool{sem: semaphore.NewWeighted(capacity), capacity: capacity}
	p.inUse = metrics.InUse
	p.waiting = metrics.Waiting
	if p.inUse == nil {
		p.inUse = prometheus.NewGauge(prometheus.GaugeOpts{Name: "noop_stack_pool_in_use"})
	}
	if p.waiting == nil {
		p.waiting = prometheus.NewGauge(prometheus.GaugeOpts{Name: "noop_stack_pool_waiting"})
	}
	return p
}

// Stack is an admission ticket; Release returns it to the pool.
type Stack struct {
	pool *StackPool
}

// Acquire blocks until a stack is available or ctx is canceled, in
// which case it returns CodeCanceled/CodeTimedOut matching ctx's
// cause.
func (p *StackPool) Acquire(ctx context.Context) (*Stack, error) {
	p.waiting.Inc()
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Dec()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ferr.Wrap(ferr.CodeTimedOut, "timed out waiting for a stack", err)
		}
		return nil, ferr.Wrap(ferr.CodeCanceled, "canceled waiting for a stack", err)
	}
	p.inUse.Inc()
	return &Stack{pool: p}, nil
}

// Release returns the stack to the pool. Release is not idempotent:
// calling it again is a caller bug (double release), and unlike the RAII handles
// elsewhere this one does not guard against it — callers own exactly
// one release per acquire, matching the original's scoped-guard usage.
func (s *Stack) Release() {
	s.pool.sem.Release(1)
	s.pool.inUse.Dec()
}

// Capacity returns the pool's configured concurrent-stack limit.
func (p *StackPool) Capacity() int64 { return p.capacity }
