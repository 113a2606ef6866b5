package tasks

import "container/heap"

// timeoutEntry pairs a task with the unix-nanosecond time it should be
// woken, the sleep/timeout heap entry named by the task core for
// Yield's deadline, WaitUntil and sleep_for.
type timeoutEntry struct {
	task  *Task
	at    int64
	index int
}

// timeoutHeap is a min-heap on timeoutEntry.at, built on container/heap
// the same way runQueue orders by priority.
type timeoutHeap struct {
	items []*timeoutEntry
}

func newTimeoutHeap() *timeoutHeap {
	h := &timeoutHeap{}
	heap.Init((*timeoutHeapImpl)(h))
	return h
}

func (h *timeoutHeap) push(t *Task, at int64) {
	heap.Push((*timeoutHeapImpl)(h), &timeoutEntry{task: t, at: at})
}

func (h *timeoutHeap) peek() (*timeoutEntry, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

func (h *timeoutHeap) pop() (*timeoutEntry, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return heap.Pop((*timeoutHeapImpl)(h)).(*timeoutEntry), true
}

func (h *timeoutHeap) len() int { return len(h.items) }

// timeoutHeapImpl implements container/heap.Interface over timeoutHeap's
// items.
type timeoutHeapImpl timeoutHeap

func (h *timeoutHeapImpl) Len() int            { return len(h.items) }
func (h *timeoutHeapImpl) Less(i, j int) bool  { return h.items[i].at < h.items[j].at }
func (h *timeoutHeapImpl) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *timeoutHeapImpl) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(h.items)
	h.items = append(h.items, e)
}

func (h *timeoutHeapImpl) Pop() interface{} {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return e
}
