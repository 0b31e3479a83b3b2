// Dependency-chained file operation dispatcher.
//
// Every op but an open hangs off a predecessor and is only handed to a worker once that
// predecessor has resolved, so the ops of one chain run strictly one after the other.
// Ops of different chains run concurrently on the worker pool.
package dispatch

import (
	c "mooio/internal"
	"mooio/internal/util"

	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	ErrClosed 		= errors.New("dispatch: closed")
	ErrInvalidArg 	= errors.New("dispatch: invalid arg")
)

type Options struct {
	Workers		int
	Engine		EngineKind
	RingEntries	uint32
	RingCPU		int
	ChunkSize	int
	Perm		uint32
}

func DefaultOptions() Options {
	return Options{
		Workers: 		c.DEFAULT_WORKERS,
		Engine: 		EngineSyscall,
		RingEntries: 	c.DEFAULT_RING_ENTRIES,
		RingCPU: 		c.DEFAULT_RING_CPU,
		ChunkSize: 		c.CHUNK_SIZE,
		Perm: 			c.F_OPEN_PERM,
	}
}

type Dispatcher struct {
	log			*slog.Logger
	opts		Options
	eng			engine

	nextId		atomic.Uint64

	mu			sync.Mutex
	cond		*sync.Cond
	jobs		util.Deque[*Op]
	closed		bool // no more submissions
	stopping	bool // workers exit once jobs is empty

	inflight	sync.WaitGroup
	workers		sync.WaitGroup
}

func CreateDispatcher(opts Options) (*Dispatcher, error) {
	log := slog.With("src", "Dispatcher")

	if opts.Workers < 1 || opts.ChunkSize < 1 { return nil, ErrInvalidArg }

	var eng engine
	switch opts.Engine {
	case EngineSyscall:
		eng = syscallEngine{}
	case EngineRing:
		re, err := newRingEngine(opts.RingEntries, opts.RingCPU, opts.ChunkSize)
		if err != nil { return nil, err }
		eng = re
	default:
		return nil, ErrInvalidArg
	}

	d := &Dispatcher{
		log: 	log,
		opts: 	opts,
		eng: 	eng,
		jobs: 	util.CreateDeque[*Op](64),
	}
	d.cond = sync.NewCond(&d.mu)

	for range opts.Workers {
		d.workers.Add(1)
		go d.worker()
	}

	log.Debug("CreateDispatcher", "workers", opts.Workers, "engine", opts.Engine)
	return d, nil
}

// Close waits for every submitted op to resolve, stops the workers and releases the
// engine. Must not be called from a completion handler.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()

	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.workers.Wait()

	d.log.Debug("Close", "ops", d.nextId.Load())
	return d.eng.close()
}

func (d *Dispatcher) SubmitOpen(path string, flags Flags) (*Op, error) {
	if path == "" { return nil, ErrInvalidArg }
	op := NewOp(d.nextId.Add(1), KindOpen, nil)
	op.path = path
	op.flags = flags
	return d.submit(op)
}

// off is relative to the handle's read cursor
func (d *Dispatcher) SubmitRead(pred *Op, buf []byte, off int64) (*Op, error) {
	if pred == nil || off < 0 { return nil, ErrInvalidArg }
	op := NewOp(d.nextId.Add(1), KindRead, pred)
	op.buf = buf
	op.off = off
	return d.submit(op)
}

// off is absolute
func (d *Dispatcher) SubmitWrite(pred *Op, buf []byte, off int64) (*Op, error) {
	if pred == nil || off < 0 { return nil, ErrInvalidArg }
	op := NewOp(d.nextId.Add(1), KindWrite, pred)
	op.buf = buf
	op.off = off
	return d.submit(op)
}

// Writes at base + the handle's write counter as of execution. Writes before it in the
// chain that were cancelled or failed leave no gap.
func (d *Dispatcher) SubmitAppend(pred *Op, buf []byte, base int64) (*Op, error) {
	if pred == nil || base < 0 { return nil, ErrInvalidArg }
	op := NewOp(d.nextId.Add(1), KindWrite, pred)
	op.buf = buf
	op.off = base
	op.rel = true
	return d.submit(op)
}

// Grows the file to size bytes. Never shrinks it.
func (d *Dispatcher) SubmitTruncate(pred *Op, size int64) (*Op, error) {
	if pred == nil || size < 0 { return nil, ErrInvalidArg }
	op := NewOp(d.nextId.Add(1), KindTruncate, pred)
	op.size = size
	return d.submit(op)
}

// Grows the file to make room for n more bytes at base + the handle's write counter as
// of execution. Never shrinks it.
func (d *Dispatcher) SubmitReserve(pred *Op, base int64, n int64) (*Op, error) {
	if pred == nil || base < 0 || n < 0 { return nil, ErrInvalidArg }
	op := NewOp(d.nextId.Add(1), KindTruncate, pred)
	op.size = base + n
	op.rel = true
	return d.submit(op)
}

func (d *Dispatcher) SubmitClose(pred *Op) (*Op, error) {
	if pred == nil { return nil, ErrInvalidArg }
	return d.submit(NewOp(d.nextId.Add(1), KindClose, pred))
}

// Call invokes fn exactly once with the op's result: on the worker that resolves it, or
// right away on this goroutine if it already resolved.
func (d *Dispatcher) Call(op *Op, fn func(Result)) {
	op.then(fn)
}

func (d *Dispatcher) submit(op *Op) (*Op, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	d.log.Debug("submit", "op", op, "after", op.pred)
	if op.pred == nil {
		d.schedule(op)
	} else {
		op.pred.then(func(Result) { d.schedule(op) })
	}
	return op, nil
}

func (d *Dispatcher) schedule(op *Op) {
	d.mu.Lock()
	d.jobs.PushBack(op)
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()
	for {
		d.mu.Lock()
		for d.jobs.Len() == 0 && !d.stopping {
			d.cond.Wait()
		}
		if d.jobs.Len() == 0 {
			d.mu.Unlock()
			return
		}
		op := d.jobs.PopFront()
		d.mu.Unlock()

		d.execute(op)
	}
}

func (d *Dispatcher) execute(op *Op) {
	defer d.inflight.Done()

	var h *Handle
	if op.pred != nil {
		h = op.pred.Result().Handle
	}

	if !op.begin() {
		d.log.Debug("cancelled", "op", op)
		op.Complete(Result{ Handle: h, Kind: ResultStatus, Err: unix.ECANCELED })
		return
	}
	if op.pred != nil && (h == nil || (h.Closed() && op.kind != KindClose)) {
		op.Complete(Result{ Kind: ResultNone })
		return
	}

	res := d.run(op, h)
	d.log.Debug("resolved", "op", op, "kind", res.Kind, "err", res.Err)
	op.Complete(res)
}

func (d *Dispatcher) run(op *Op, h *Handle) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic while running op", "op", op, "panic", r)
			res = Result{ Handle: h, Kind: ResultUnknown, Err: fmt.Errorf("dispatch: %s: %v", op, r) }
		}
	}()

	switch op.kind {
	case KindOpen:
		fd, err := unix.Open(op.path, op.flags.openMode(), d.opts.Perm)
		if err != nil { return classify(nil, err) }
		h := NewHandle(fd, op.path, op.flags)
		d.log.Debug("opened", "path", h.Path(), "fd", h.Fd(), "flags", h.Flags())
		return Result{ Handle: h }

	case KindRead:
		size, err := h.QuerySize()
		if err != nil { return classify(h, err) }
		at := h.ReadCount() + op.off
		n := int(min(int64(len(op.buf)), max(size - at, 0)))
		got, err := d.eng.read(h.fd, op.buf[:n], at)
		h.AddRead(int64(got))
		if err != nil { return classify(h, err) }
		return Result{ Handle: h }

	case KindWrite:
		at := op.off
		if op.rel { at += h.WriteCount() }
		got, err := d.eng.write(h.fd, op.buf, at, h.flags&FlagSync != 0)
		h.AddWrite(int64(got))
		if err != nil { return classify(h, err) }
		return Result{ Handle: h }

	case KindTruncate:
		size, err := h.QuerySize()
		if err != nil { return classify(h, err) }
		want := op.size
		if op.rel { want += h.WriteCount() }
		if size < want {
			if err := d.eng.extend(h.fd, size, want); err != nil { return classify(h, err) }
		}
		return Result{ Handle: h }

	case KindClose:
		if !h.closed.CompareAndSwap(false, true) { return classify(h, unix.EBADF) }
		if err := unix.Close(h.fd); err != nil { return classify(h, err) }
		return Result{ Handle: h }
	}

	return Result{ Handle: h, Kind: ResultUnknown, Err: fmt.Errorf("dispatch: unknown op kind %s", op.kind) }
}

func classify(h *Handle, err error) Result {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return Result{ Handle: h, Kind: ResultStatus, Err: errno }
	}
	return Result{ Handle: h, Kind: ResultUnknown, Err: err }
}
