package evloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Loop_Post_Is_Deferred(t *testing.T) {
	l := CreateLoop()
	ran := false
	l.Post(func() { ran = true })
	assert.False(t, ran)
	assert.Equal(t, 1, l.Outstanding())

	assert.Equal(t, 1, l.Poll())
	assert.True(t, ran)
	assert.Equal(t, 0, l.Outstanding())
}

func Test_Loop_FIFO(t *testing.T) {
	l := CreateLoop()
	var got []int
	for i := range 10 {
		l.Post(func() {
			got = append(got, i)
			// handlers posted from handlers go to the back
			if i == 0 { l.Post(func() { got = append(got, 100) }) }
		})
	}
	assert.Equal(t, 11, l.Run())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 100}, got)
}

func Test_Loop_Run_Waits_For_Work(t *testing.T) {
	l := CreateLoop()
	l.WorkStarted()

	done := make(chan int)
	go func() { done <- l.Run() }()

	select {
	case <- done:
		t.Fatal("Run returned with outstanding work")
	case <- time.After(20 * time.Millisecond):
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Post(func() { l.WorkFinished() })
	}()
	wg.Wait()

	select {
	case n := <- done:
		assert.Equal(t, 1, n)
	case <- time.After(2 * time.Second):
		t.Fatal("Run didnt return after work finished")
	}
}

func Test_Loop_Poll_Does_Not_Block(t *testing.T) {
	l := CreateLoop()
	l.WorkStarted()
	assert.Equal(t, 0, l.Poll())
	assert.Equal(t, 1, l.Outstanding())
	l.WorkFinished()
	assert.Equal(t, 0, l.Run())
}

func Test_Loop_Stop_Restart(t *testing.T) {
	l := CreateLoop()
	count := 0
	l.Post(func() { count++; l.Stop() })
	l.Post(func() { count++ })

	assert.Equal(t, 1, l.Run())
	assert.True(t, l.Stopped())
	assert.Equal(t, 0, l.Poll())

	l.Restart()
	assert.Equal(t, 1, l.Run())
	assert.Equal(t, 2, count)
}
