package util

import (
	"github.com/negrel/assert"
)

const dequeMinCap = 8

func mod(a int, b int) int {
	return ((a % b) + b) % b
}

// growable ring-buffer queue. Zero value is ready to use.
type Deque[T any] struct {
	data	[]T
	head	int // index of the front element
	cnt 	int
}

func CreateDeque[T any](size int) Deque[T] {
	return Deque[T] {
		head: 	0,
		cnt: 	0,
		data: 	make([]T, max(size, dequeMinCap)),
	}
}

func (q *Deque[T]) Len() int {
	return q.cnt
}

func (q *Deque[T]) grow() {
	size := max(len(q.data) * 2, dequeMinCap)
	data := make([]T, size)
	for i := range q.cnt {
		data[i] = q.data[mod(q.head + i, len(q.data))]
	}
	q.data = data
	q.head = 0
}

func (q *Deque[T]) PushBack(val T) {
	if q.cnt == len(q.data) { q.grow() }
	q.data[mod(q.head + q.cnt, len(q.data))] = val
	q.cnt++
}

// will panic if empty.
func (q *Deque[T]) PopFront() T {
	if q.cnt == 0 { panic("deque underflow") }
	var zero T
	val := q.data[q.head]
	q.data[q.head] = zero // dont hold on to popped references
	q.head = mod(q.head + 1, len(q.data))
	q.cnt--
	return val
}

// will panic if empty.
func (q *Deque[T]) Front() T {
	if q.cnt == 0 { panic("deque empty") }
	return q.data[q.head]
}

// will panic if empty.
func (q *Deque[T]) Back() T {
	if q.cnt == 0 { panic("deque empty") }
	return q.data[mod(q.head + q.cnt - 1, len(q.data))]
}

// i=0 is the front
func (q *Deque[T]) At(i int) T {
	assert.Less(i, q.cnt, "deque index out of range")
	return q.data[mod(q.head + i, len(q.data))]
}


// SlotMap is a growable arena of values addressed by numbered "tickets". Released
// tickets are recycled (lowest-released-first is not guaranteed, it is a FIFO of
// free tickets).
type SlotMap[T any] struct {
	free		Deque[int]
	data		[]T
	used		[]bool
	cnt			int
}

func CreateSlotMap[T any](size int) SlotMap[T] {
	free := CreateDeque[int](size)
	for i := range size {
		free.PushBack(i)
	}

	return SlotMap[T]{
		free: free,
		data: make([]T, size),
		used: make([]bool, size),
	}
}

// This acquires a ticket and sets the slot to the passed value
func (sm *SlotMap[T]) Acq(val T) int {
	if sm.free.Len() == 0 {
		ticket := len(sm.data)
		sm.data = append(sm.data, val)
		sm.used = append(sm.used, true)
		sm.cnt++
		return ticket
	}
	ticket := sm.free.PopFront()
	sm.data[ticket] = val
	sm.used[ticket] = true
	sm.cnt++
	return ticket
}

// Releasing a free ticket is a no-op.
func (sm *SlotMap[T]) Rel(ticket int) {
	if ticket < 0 || ticket >= len(sm.data) || !sm.used[ticket] { return }
	var zero T
	sm.data[ticket] = zero
	sm.used[ticket] = false
	sm.cnt--
	sm.free.PushBack(ticket)
}

func (sm *SlotMap[T]) Get(ticket int) (T, bool) {
	if ticket < 0 || ticket >= len(sm.data) || !sm.used[ticket] {
		var zero T
		return zero, false
	}
	return sm.data[ticket], true
}

func (sm *SlotMap[T]) Len() int {
	return sm.cnt
}
