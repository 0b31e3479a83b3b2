package util_test

import (
	"mooio/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Deque(t *testing.T) {
	q := util.CreateDeque[int](8)
	assert.Equal(t, q.Len(), 0)

	for range 3 {
		for i := range 5 {
			q.PushBack(i)
		}
		assert.Equal(t, q.Len(), 5)
		assert.Equal(t, q.Front(), 0)
		assert.Equal(t, q.Back(), 4)
		for i := range 5 {
			res := q.PopFront()
			assert.Equal(t, res, i)
		}
		assert.Equal(t, q.Len(), 0)
	}
}

func Test_Deque_Grow_Wrapped(t *testing.T) {
	var q util.Deque[int]

	// move head off zero so the grow has to unwrap
	for i := range 6 {
		q.PushBack(i)
	}
	for range 4 {
		q.PopFront()
	}
	for i := 6; i < 40; i++ {
		q.PushBack(i)
	}

	assert.Equal(t, 36, q.Len())
	for i := range q.Len() {
		assert.Equal(t, i+4, q.At(i))
	}
	for i := 4; i < 40; i++ {
		assert.Equal(t, i, q.PopFront())
	}
}

func Test_Deque_Underflow(t *testing.T) {
	q := util.CreateDeque[string](2)
	assert.Panics(t, func() { q.PopFront() })
	assert.Panics(t, func() { q.Front() })
	assert.Panics(t, func() { q.Back() })
}

func Test_SlotMap(t *testing.T) {
	sm := util.CreateSlotMap[string](2)

	a := sm.Acq("a")
	b := sm.Acq("b")
	c := sm.Acq("c") // grows past initial size
	assert.Equal(t, 3, sm.Len())

	v, ok := sm.Get(c)
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	sm.Rel(b)
	sm.Rel(b)
	assert.Equal(t, 2, sm.Len())
	_, ok = sm.Get(b)
	assert.False(t, ok)

	d := sm.Acq("d")
	assert.Equal(t, b, d, "released ticket should be recycled")

	v, ok = sm.Get(a)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = sm.Get(-1)
	assert.False(t, ok)
	_, ok = sm.Get(100)
	assert.False(t, ok)
}
