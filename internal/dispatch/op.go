package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type OpKind uint8
const (
	KindOpen OpKind = iota
	KindRead
	KindWrite
	KindTruncate
	KindClose
)

func (k OpKind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindTruncate:
		return "truncate"
	case KindClose:
		return "close"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

type ResultKind uint8
const (
	// handle available, no error
	ResultOk ResultKind = iota
	// nothing to resolve to: the op never had a handle to work on (submission failed
	// or the chain it hangs off broke before it)
	ResultNone
	// categorized failure, Err is a unix.Errno
	ResultStatus
	// anything else (recovered panics, non-errno errors)
	ResultUnknown
)

func (k ResultKind) String() string {
	switch k {
	case ResultOk:
		return "ok"
	case ResultNone:
		return "none"
	case ResultStatus:
		return "status"
	case ResultUnknown:
		return "unknown"
	}
	return fmt.Sprintf("ResultKind(%d)", uint8(k))
}

// Result is what an Op resolves to. Handle may be set even when Kind != ResultOk: a
// failed read leaves the file usable for the next op in the chain.
type Result struct {
	Handle	*Handle
	Kind	ResultKind
	Err		error
}

func (r Result) Ok() bool { return r.Kind == ResultOk && r.Handle != nil }

// Counters are the cumulative byte counts of a Handle at some point in its chain.
type Counters struct {
	Read	int64
	Write	int64
}

// Handle is the native file the ops of a chain work on. ReadCount doubles as the read
// cursor: reads are positioned relative to it.
type Handle struct {
	fd		int
	path	string
	flags	Flags
	reads	atomic.Int64
	writes	atomic.Int64
	closed	atomic.Bool
}

func NewHandle(fd int, path string, flags Flags) *Handle {
	return &Handle{ fd: fd, path: path, flags: flags }
}

func (h *Handle) Fd() int 				{ return h.fd }
func (h *Handle) Path() string 			{ return h.path }
func (h *Handle) Flags() Flags 			{ return h.flags }
func (h *Handle) ReadCount() int64 		{ return h.reads.Load() }
func (h *Handle) WriteCount() int64 	{ return h.writes.Load() }
func (h *Handle) AddRead(n int64) 		{ h.reads.Add(n) }
func (h *Handle) AddWrite(n int64) 		{ h.writes.Add(n) }
func (h *Handle) Closed() bool 			{ return h.closed.Load() }

func (h *Handle) Counters() Counters {
	return Counters{ Read: h.reads.Load(), Write: h.writes.Load() }
}

func (h *Handle) QuerySize() (int64, error) {
	if h.Closed() { return 0, unix.EBADF }
	var st unix.Stat_t
	if err := unix.Fstat(h.fd, &st); err != nil { return 0, err }
	return st.Size, nil
}

const (
	opQueued int32 = iota
	opRunning
	opCanceled
)

// Op is one submitted unit of work: a future that resolves exactly once, after its
// predecessor.
type Op struct {
	id		uint64
	kind	OpKind
	pred	*Op

	path	string
	flags	Flags
	buf		[]byte
	off		int64
	size	int64
	rel		bool // write/truncate: off or size counts from the handle's write counter

	state	atomic.Int32

	mu			sync.Mutex
	resolved	bool
	res			Result
	snap		Counters
	conts		[]func(Result)
	done		chan struct{}
}

// NewOp creates an unresolved op. Dispatchers use it; so can fakes that resolve ops by
// hand with Complete.
func NewOp(id uint64, kind OpKind, pred *Op) *Op {
	return &Op{
		id: 	id,
		kind: 	kind,
		pred: 	pred,
		done: 	make(chan struct{}),
	}
}

func (op *Op) ID() uint64 				{ return op.id }
func (op *Op) Kind() OpKind 			{ return op.kind }
func (op *Op) Pred() *Op 				{ return op.pred }
func (op *Op) Done() <-chan struct{} 	{ return op.done }

func (op *Op) String() string {
	if op == nil { return "<nil>" }
	return fmt.Sprintf("%s#%d", op.kind, op.id)
}

func (op *Op) Resolved() bool {
	select {
	case <- op.done:
		return true
	default:
		return false
	}
}

// Result blocks until the op resolves.
func (op *Op) Result() Result {
	<- op.done
	return op.res
}

// Snapshot is the handle's counters at the moment the op resolved. Zero until then.
func (op *Op) Snapshot() Counters {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.snap
}

// Cancel stops an op that hasn't started executing. It will still resolve, in chain
// order, with ECANCELED. Returns false if it is already running or resolved.
func (op *Op) Cancel() bool {
	if op.Resolved() { return false }
	return op.state.CompareAndSwap(opQueued, opCanceled)
}

func (op *Op) Canceled() bool {
	return op.state.Load() == opCanceled
}

// begin flips queued -> running, false means the op was cancelled first.
func (op *Op) begin() bool {
	return op.state.CompareAndSwap(opQueued, opRunning)
}

// then runs fn with the result once resolved. Continuations run in registration order
// on the goroutine that resolves the op, or inline if it already has.
func (op *Op) then(fn func(Result)) {
	op.mu.Lock()
	if !op.resolved {
		op.conts = append(op.conts, fn)
		op.mu.Unlock()
		return
	}
	res := op.res
	op.mu.Unlock()
	fn(res)
}

// Complete resolves the op. Resolving twice panics.
func (op *Op) Complete(res Result) {
	op.mu.Lock()
	if op.resolved {
		op.mu.Unlock()
		panic(fmt.Sprintf("dispatch: %s resolved twice", op))
	}
	op.resolved = true
	op.res = res
	if res.Handle != nil {
		op.snap = res.Handle.Counters()
	}
	conts := op.conts
	op.conts = nil
	op.mu.Unlock()

	close(op.done)
	for _, fn := range conts {
		fn(res)
	}
}
