package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunQueuePriorityOrder(t *testing.T) {
	q := newRunQueue()
	low := newTask(ID{Index: 1}, PriorityLow, nil, nil, nil)
	high := newTask(ID{Index: 2}, PriorityHigh, nil, nil, nil)
	normal := newTask(ID{Index: 3}, PriorityNormal, nil, nil, nil)

	q.push(low)
	q.push(high)
	q.push(normal)

	first, ok := q.pop()
	assert.True(t, ok)
	assert.Equal(t, high, first)

	second, _ := q.pop()
	assert.Equal(t, normal, second)

	third, _ := q.pop()
	assert.Equal(t, low, third)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestRunQueueFIFOWithinPriority(t *testing.T) {
	q := newRunQueue()
	a := newTask(ID{Index: 1}, PriorityNormal, nil, nil, nil)
	b := newTask(ID{Index: 2}, PriorityNormal, nil, nil, nil)
	c := newTask(ID{Index: 3}, PriorityNormal, nil, nil, nil)

	q.push(a)
	q.push(b)
	q.push(c)

	first, _ := q.pop()
	second, _ := q.pop()
	third, _ := q.pop()
	assert.Equal(t, []*Task{a, b, c}, []*Task{first, second, third})
}

func TestRunQueueLenTracksPushAndPop(t *testing.T) {
	q := newRunQueue()
	task := newTask(ID{Index: 1}, PriorityNormal, nil, nil, nil)
	assert.Equal(t, 0, q.len())

	q.push(task)
	assert.Equal(t, 1, q.len())

	q.pop()
	assert.Equal(t, 0, q.len())
}
