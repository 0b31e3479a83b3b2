package afile

import (
	"io"

	"mooio/internal/dispatch"

	"github.com/negrel/assert"
)

// Read fills buf from the read cursor. cb gets the number of bytes read, or io.EOF once
// the cursor sits at the end of the file.
func (f *File) Read(buf []byte, cb func(err error, n int)) {
	if cb == nil { cb = func(error, int) {} }

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateOpen || !f.flags.Readable() {
		f.post(func() { cb(ErrBadFd, 0) })
		return
	}
	if len(buf) == 0 {
		f.post(func() { cb(nil, 0) })
		return
	}

	want := len(buf)
	// with nothing in flight the cursor and the size are known now, otherwise the
	// dispatcher clamps against the size at execution time
	if f.pending.Len() == 0 {
		size, err := f.current.Result().Handle.QuerySize()
		if err != nil {
			f.post(func() { cb(submitErr(err), 0) })
			return
		}
		remaining := size - f.current.Snapshot().Read
		if remaining <= 0 {
			f.post(func() { cb(io.EOF, 0) })
			return
		}
		want = int(min(int64(want), remaining))
	}

	pred := f.last()
	op, err := f.disp.SubmitRead(pred, buf[:want], 0)
	if err != nil {
		f.post(func() { cb(submitErr(err), 0) })
		return
	}
	f.track(&entry{ op: op, pred: pred, want: want, onIO: cb })
}

// Write puts buf right after the bytes written so far, growing the file first if
// needed. A write that fails or is cancelled doesn't move the cursor.
func (f *File) Write(buf []byte, cb func(err error, n int)) {
	if cb == nil { cb = func(error, int) {} }

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateOpen || !f.flags.Writable() {
		f.post(func() { cb(ErrBadFd, 0) })
		return
	}
	if len(buf) == 0 {
		f.post(func() { cb(nil, 0) })
		return
	}

	pred := f.last()
	ext, err := f.disp.SubmitReserve(pred, f.base, int64(len(buf)))
	if err != nil {
		f.post(func() { cb(submitErr(err), 0) })
		return
	}
	op, err := f.disp.SubmitAppend(ext, buf, f.base)
	if err != nil {
		ext.Cancel()
		f.post(func() { cb(submitErr(err), 0) })
		return
	}

	f.queued += int64(len(buf))
	f.track(&entry{ op: op, pred: ext, ext: ext, want: len(buf), onIO: cb })
}

func (f *File) settleIO(e *entry, res dispatch.Result) func() {
	// a failed op that still has its handle is a valid counters baseline
	if res.Handle != nil {
		f.current = e.op
	}

	if e.ext != nil {
		f.queued -= int64(e.want)
		assert.GreaterOrEqual(f.queued, int64(0), "more writes settled than queued")
		// pwrite grows the file on its own, the write's result is what counts
		if xr := e.ext.Result(); !xr.Ok() && !e.op.Canceled() {
			f.log.Warn("reserve failed", "op", e.ext, "kind", xr.Kind, "err", xr.Err)
		}
	}

	err := ioErr(res)
	if err != nil {
		return func() { e.onIO(err, 0) }
	}

	before, after := e.pred.Snapshot(), e.op.Snapshot()
	var n int64
	if e.op.Kind() == dispatch.KindRead {
		n = after.Read - before.Read
	} else {
		n = after.Write - before.Write
	}
	assert.GreaterOrEqual(n, int64(0), "counters went backwards")
	assert.LessOrEqual(n, int64(e.want), "moved more than asked for")

	if n == 0 && e.op.Kind() == dispatch.KindRead {
		return func() { e.onIO(io.EOF, 0) }
	}
	return func() { e.onIO(nil, int(n)) }
}
