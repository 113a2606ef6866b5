package tasks

import "container/heap"

// runQueue is a priority run queue: highest Priority first, FIFO among
// equal priorities via a monotonic sequence number, implemented on
// container/heap the way the standard library's own priority-queue
// example does it.
type runQueue struct {
	items []*queueItem
	seq   uint64
}

type queueItem struct {
	task  *Task
	seq   uint64
	index int
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	heap.Init((*queueHeap)(q))
	return q
}

// push and pop are pure queue mechanics; callers own the pushed task's
// ScheduleStatus transitions (WorkerGroup.dispatch/runTask), since a
// lane's queue is also used to receive tasks that already carry a
// status set for a different reason (e.g. a stolen task mid-dispatch).
func (q *runQueue) push(t *Task) {
	q.seq++
	heap.Push((*queueHeap)(q), &queueItem{task: t, seq: q.seq})
}

func (q *runQueue) pop() (*Task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop((*queueHeap)(q)).(*queueItem)
	return item.task, true
}

func (q *runQueue) len() int { return len(q.items) }

// queueHeap implements container/heap.Interface over runQueue's items.
type queueHeap runQueue

func (h *queueHeap) Len() int { return len(h.items) }

func (h *queueHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.task.Priority() != b.task.Priority() {
		return a.task.Priority() > b.task.Priority()
	}
	return a.seq < b.seq
}

func (h *queueHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *queueHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *queueHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
