//go:build linux

package dispatch

import (
	"log/slog"
	"math"
	"runtime"
	"sync"

	"mooio/internal/iomgr"

	"github.com/negrel/assert"
	"golang.org/x/sys/unix"
)

// ringEngine pushes reads/writes through io_uring. A buffer is cut into chunks and up to
// iomgr.OP_MAX_OPS chunks go down as one linked batch.
type ringEngine struct {
	log		*slog.Logger
	mgr		*iomgr.IoMgr
	chunk	int
	ops		sync.Pool
	// set once fallocate turned out not to work here
	noAlloc	bool
	mu		sync.Mutex
}

func newRingEngine(entries uint32, cpu int, chunk int) (*ringEngine, error) {
	mgr, err := iomgr.CreateIoMgr(entries, cpu)
	if err != nil { return nil, err }

	e := &ringEngine{
		log: 	slog.With("src", "RingEngine"),
		mgr: 	mgr,
		chunk: 	chunk,
	}
	e.ops.New = func() any {
		return &iomgr.Op{ Ch: make(chan struct{}, 1) }
	}
	return e, nil
}

func (e *ringEngine) getOp(opcode iomgr.OpCode, fd int) *iomgr.Op {
	op := e.ops.Get().(*iomgr.Op)
	op.Reset(opcode, fd)
	return op
}

// fills op with as many chunks of buf as fit, returns bytes covered
func (e *ringEngine) fill(op *iomgr.Op, buf []byte, off int64) int {
	covered := 0
	for covered < len(buf) {
		end := min(covered + e.chunk, len(buf))
		if !op.AddSlice(buf[covered:end], uint64(off) + uint64(covered)) { break }
		covered = end
	}
	assert.LessOrEqual(int(op.Count), iomgr.OP_MAX_OPS, "too many chunks in one batch")
	return covered
}

func (e *ringEngine) run(op *iomgr.Op) error {
	if err := e.mgr.Submit(op); err != nil { return err }
	<- op.Ch
	return nil
}

// a short transfer inside a linked batch cancels the rest of the batch, that is not
// an error as long as something moved. A read batch whose first chunk hit EOF moved
// nothing and is still just a short read.
func batchErr(op *iomgr.Op) error {
	if op.Res >= 0 { return nil }
	if op.Res == -int32(unix.ECANCELED) && (op.Total > 0 || op.Opcode == iomgr.OpRead) { return nil }
	return unix.Errno(-op.Res)
}

func (e *ringEngine) read(fd int, buf []byte, off int64) (int, error) {
	op := e.getOp(iomgr.OpRead, fd)
	defer e.ops.Put(op)

	done := 0
	for done < len(buf) {
		op.Reset(iomgr.OpRead, fd)
		want := e.fill(op, buf[done:], off + int64(done))
		err := e.run(op)
		runtime.KeepAlive(buf)
		if err != nil { return done, err }
		if err := batchErr(op); err != nil { return done, err }

		done += int(op.Total)
		if op.Total < int64(want) { break } // EOF
	}
	return done, nil
}

func (e *ringEngine) write(fd int, buf []byte, off int64, sync bool) (int, error) {
	op := e.getOp(iomgr.OpWrite, fd)
	defer e.ops.Put(op)

	done := 0
	for done < len(buf) {
		op.Reset(iomgr.OpWrite, fd)
		want := e.fill(op, buf[done:], off + int64(done))
		// only the last batch carries the fsync
		op.Sync = sync && done + want == len(buf)
		err := e.run(op)
		runtime.KeepAlive(buf)
		if err != nil { return done, err }
		if err := batchErr(op); err != nil { return done + int(op.Total), err }

		if op.Total == 0 { return done, unix.EIO }
		// a short batch cancelled its fsync too, the next batch is the last one again
		done += int(op.Total)
	}
	return done, nil
}

func (e *ringEngine) extend(fd int, from int64, to int64) error {
	e.mu.Lock()
	noAlloc := e.noAlloc
	e.mu.Unlock()

	if noAlloc || to - from > math.MaxUint32 || from < 0 {
		return unix.Ftruncate(fd, to)
	}

	op := e.getOp(iomgr.OpAllocate, fd)
	defer e.ops.Put(op)
	op.Offs[0] = uint64(from)
	op.Lens[0] = uint32(to - from)
	if err := e.run(op); err != nil { return err }
	if op.Res == 0 { return nil }

	errno := unix.Errno(-op.Res)
	if errno == unix.EOPNOTSUPP || errno == unix.EINVAL {
		e.log.Warn("fallocate unsupported, falling back to ftruncate", "err", errno)
		e.mu.Lock()
		e.noAlloc = true
		e.mu.Unlock()
		return unix.Ftruncate(fd, to)
	}
	return errno
}

func (e *ringEngine) close() error {
	e.mgr.Close()
	return nil
}
