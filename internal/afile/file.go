// Ordered, callback driven access to a single file.
//
// A File turns open / read / write / close requests into a chain of dispatcher ops, each
// one hanging off the previous, and reports every outcome through exactly one callback
// posted to an executor. Callbacks are delivered in the order the requests were made.
package afile

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"mooio/internal/dispatch"
	"mooio/internal/evloop"
	"mooio/internal/util"
)

// Dispatcher is the part of *dispatch.Dispatcher a File needs.
type Dispatcher interface {
	SubmitOpen(path string, flags dispatch.Flags) (*dispatch.Op, error)
	SubmitRead(pred *dispatch.Op, buf []byte, off int64) (*dispatch.Op, error)
	SubmitAppend(pred *dispatch.Op, buf []byte, base int64) (*dispatch.Op, error)
	SubmitReserve(pred *dispatch.Op, base int64, n int64) (*dispatch.Op, error)
	SubmitClose(pred *dispatch.Op) (*dispatch.Op, error)
	Call(op *dispatch.Op, fn func(dispatch.Result))
}

// executors that can be told about work they will be handed later (evloop.Loop)
type workTracker interface {
	WorkStarted()
	WorkFinished()
}

type fileState uint8
const (
	stateClosed fileState = iota
	stateOpening
	stateOpen
	stateClosing
)

func (s fileState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	}
	return fmt.Sprintf("fileState(%d)", uint8(s))
}

type entry struct {
	op		*dispatch.Op
	pred	*dispatch.Op // counters baseline
	ext		*dispatch.Op // writes only, the reserve op between pred and op
	want	int

	onOpen	func(error)
	onIO	func(error, int)
	onClose	func(error)
}

// File is safe to use from any goroutine. Callbacks run on the executor and may issue
// further requests.
type File struct {
	log			*slog.Logger
	disp		Dispatcher
	exec		evloop.Executor
	work		workTracker // nil if exec doesn't track work

	mu			sync.Mutex
	pending		util.Deque[int] // slot tickets, oldest first
	slots		util.SlotMap[*entry]
	current		*dispatch.Op
	state		fileState
	flags		dispatch.Flags
	base		int64 // writes land at base + the handle's write counter
	queued		int64 // bytes of writes still pending
}

func CreateFile(disp Dispatcher, exec evloop.Executor) *File {
	f := &File{
		log: 		slog.With("src", "File"),
		disp: 		disp,
		exec: 		exec,
		pending: 	util.CreateDeque[int](16),
		slots: 		util.CreateSlotMap[*entry](16),
	}
	f.work, _ = exec.(workTracker)
	return f
}

func (f *File) Open(path string, flags dispatch.Flags, cb func(error)) {
	if cb == nil { cb = func(error) {} }

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateClosed {
		f.post(func() { cb(ErrBusy) })
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		f.post(func() { cb(submitErr(err)) })
		return
	}

	op, err := f.disp.SubmitOpen(abs, flags)
	if err != nil {
		f.log.Debug("Open: submit failed", "path", abs, "err", err)
		f.post(func() { cb(submitErr(err)) })
		return
	}

	f.state = stateOpening
	f.flags = flags
	f.track(&entry{ op: op, onOpen: cb })
	f.log.Debug("Open", "path", abs, "flags", flags, "op", op)
}

func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateOpen
}

// Size is the current size of the underlying file.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateOpen { return 0, ErrBadFd }
	return f.current.Result().Handle.QuerySize()
}

// Offset returns the read cursor as of the last completed op and the offset the next
// write will land at if every pending write goes through.
func (f *File) Offset() (read int64, write int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil { return 0, 0 }
	snap := f.current.Snapshot()
	return snap.Read, f.base + snap.Write + f.queued
}

// Cancel marks every pending op that hasn't started as cancelled. Each still gets its
// callback, in order, with ErrCanceled. Returns how many were marked.
func (f *File) Cancel() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel()
}

func (f *File) cancel() int {
	n := 0
	for i := range f.pending.Len() {
		e, _ := f.slots.Get(f.pending.At(i))
		// a write whose reserve already started goes through with it
		if e.ext != nil && !e.ext.Cancel() { continue }
		if !e.op.Cancel() { continue }
		n++
	}
	if n > 0 { f.log.Debug("Cancel", "ops", n) }
	return n
}

// Close cancels whatever hasn't started yet and closes the file once the ops already
// running have finished.
func (f *File) Close(cb func(error)) {
	if cb == nil { cb = func(error) {} }

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == stateClosed || f.state == stateClosing {
		f.post(func() { cb(ErrBadFd) })
		return
	}

	f.cancel()
	pred := f.last()
	op, err := f.disp.SubmitClose(pred)
	if err != nil {
		f.post(func() { cb(submitErr(err)) })
		return
	}

	f.state = stateClosing
	f.track(&entry{ op: op, pred: pred, onClose: cb })
	f.log.Debug("Close", "op", op, "after", pred)
}

// the op the next submission hangs off
func (f *File) last() *dispatch.Op {
	if f.pending.Len() > 0 {
		e, _ := f.slots.Get(f.pending.Back())
		return e.op
	}
	return f.current
}

func (f *File) post(fn func()) {
	f.exec.Post(fn)
}

func (f *File) track(e *entry) {
	ticket := f.slots.Acq(e)
	f.pending.PushBack(ticket)
	if f.work != nil { f.work.WorkStarted() }

	id := e.op.ID()
	f.disp.Call(e.op, func(res dispatch.Result) {
		f.post(func() { f.complete(ticket, id, res) })
	})
}

// runs on the executor
func (f *File) complete(ticket int, id uint64, res dispatch.Result) {
	deliver := f.settle(ticket, id, res)
	deliver()
	if f.work != nil { f.work.WorkFinished() }
}

func (f *File) settle(ticket int, id uint64, res dispatch.Result) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.pop(ticket, id)
	f.log.Debug("complete", "op", e.op, "kind", res.Kind, "err", res.Err)

	switch e.op.Kind() {
	case dispatch.KindOpen:
		return f.settleOpen(e, res)
	case dispatch.KindClose:
		return f.settleClose(e, res)
	}
	return f.settleIO(e, res)
}

// pop removes the front of the queue, which has to be the op that just completed.
// Anything else means completions are arriving out of order and the cursors can no
// longer be trusted.
func (f *File) pop(ticket int, id uint64) *entry {
	if f.pending.Len() == 0 || f.pending.Front() != ticket {
		front := -1
		if f.pending.Len() > 0 { front = f.pending.Front() }
		f.log.Error("completion out of order", "ticket", ticket, "op", id, "front", front)
		panic(fmt.Sprintf("afile: op %d (ticket %d) completed but front is ticket %d", id, ticket, front))
	}
	e, ok := f.slots.Get(ticket)
	if !ok || e.op.ID() != id {
		f.log.Error("completion for unknown op", "ticket", ticket, "op", id)
		panic(fmt.Sprintf("afile: ticket %d does not belong to op %d", ticket, id))
	}
	f.pending.PopFront()
	f.slots.Rel(ticket)
	return e
}

func (f *File) settleOpen(e *entry, res dispatch.Result) func() {
	err := openErr(res)
	if err != nil {
		if f.state == stateOpening { f.state = stateClosed }
		return func() { e.onOpen(err) }
	}

	h := res.Handle
	f.log.Debug("opened", "path", h.Path(), "fd", h.Fd(), "flags", h.Flags())
	f.current = e.op
	f.base = 0
	f.queued = 0
	if f.flags&dispatch.FlagAppend != 0 {
		if size, err := h.QuerySize(); err == nil {
			f.base = size
		} else {
			f.log.Warn("append: size unknown, writing from 0", "err", err)
		}
	}
	// a Close that raced the open keeps the file closing
	if f.state == stateOpening { f.state = stateOpen }
	return func() { e.onOpen(nil) }
}

func (f *File) settleClose(e *entry, res dispatch.Result) func() {
	f.current = nil
	f.state = stateClosed
	f.base = 0
	f.queued = 0
	err := closeErr(res)
	return func() { e.onClose(err) }
}
