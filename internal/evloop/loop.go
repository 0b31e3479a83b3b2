// Execution context that callbacks are delivered on.
package evloop

import (
	"log/slog"
	"sync"

	"mooio/internal/util"

	"github.com/negrel/assert"
)

// Executor schedules fn to run later on the executor's own goroutine(s). Post never
// runs fn inline.
type Executor interface {
	Post(fn func())
}

// Loop is a single-consumer handler queue in the style of an asio io_service: handlers
// posted to it run on whichever goroutine calls Run/Poll, in FIFO order.
//
// Run keeps going while there is "outstanding work" - queued handlers plus anything
// registered with WorkStarted - and returns once that drops to zero or Stop is called.
type Loop struct {
	log			*slog.Logger

	mu			sync.Mutex
	cond		*sync.Cond
	handlers	util.Deque[func()]
	work		int // outstanding work not (yet) represented by a queued handler
	stopped		bool
}

func CreateLoop() *Loop {
	l := &Loop{
		log: 		slog.With("src", "Loop"),
		handlers:	util.CreateDeque[func()](64),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.handlers.PushBack(fn)
	l.mu.Unlock()
	l.cond.Signal()
}

// WorkStarted keeps Run from returning until the matching WorkFinished.
func (l *Loop) WorkStarted() {
	l.mu.Lock()
	l.work++
	l.mu.Unlock()
}

func (l *Loop) WorkFinished() {
	l.mu.Lock()
	l.work--
	assert.GreaterOrEqual(l.work, 0, "WorkFinished without WorkStarted")
	done := l.work == 0
	l.mu.Unlock()
	if done { l.cond.Broadcast() }
}

// Outstanding returns queued handlers + registered work.
func (l *Loop) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers.Len() + l.work
}

// Run executes handlers until stopped or there is nothing left to wait for. Returns the
// number of handlers executed.
func (l *Loop) Run() int {
	n := 0
	for {
		fn, ok := l.next(true)
		if !ok { return n }
		fn()
		n++
	}
}

// Poll executes the handlers that are ready right now without blocking, including any
// posted by the handlers it runs.
func (l *Loop) Poll() int {
	n := 0
	for {
		fn, ok := l.next(false)
		if !ok { return n }
		fn()
		n++
	}
}

func (l *Loop) next(block bool) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.stopped { return nil, false }
		if l.handlers.Len() > 0 {
			return l.handlers.PopFront(), true
		}
		if !block || l.work == 0 { return nil, false }
		l.cond.Wait()
	}
}

// Stop makes Run/Poll return as soon as the current handler finishes. Queued handlers
// stay queued until Restart + Run.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	pending := l.handlers.Len()
	l.mu.Unlock()
	l.log.Debug("Stop", "queued", pending)
	l.cond.Broadcast()
}

func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) Restart() {
	l.mu.Lock()
	l.stopped = false
	l.mu.Unlock()
}
