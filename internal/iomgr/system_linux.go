//go:build linux

package iomgr

import (
	c "mooio/internal"
	"mooio/internal/util"

	"errors"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	"github.com/aethne0/giouring"
	"golang.org/x/sys/unix"
)

// PERF:
// 1. read/write fixed
// 2. register buffer
// 3. register file
// Files handed to us come from arbitrary callers so we don't register them (yet), every
// SQE pays the fd table lookup.

const MMAP_MODE   	= unix.MAP_ANON  | unix.MAP_PRIVATE
const MMAP_PROT   	= unix.PROT_READ | unix.PROT_WRITE
const OP_Q_SIZE		= 0x100

var (
	ErrClosed 	= errors.New("iomgr: closed")
	ErrInvalidOp 	= errors.New("iomgr: invalid op")
)

// For fixed/aligned buffers - not for io_uring itself, liburing handles mmap-ing for
// io_uring setup. This allocation will be aligned to the system page size (check using:
// `getconf PAGESIZE`. This will basically always be 0x1000 (4096))
func AllocSlab(size int) ([]byte, error) {
	raw, err := unix.Mmap(-1, 0, int(c.AlignUp(uint64(size))), MMAP_PROT, MMAP_MODE)
	if err != nil {
		slog.Error("AllocSlab", "err", err)
		return nil, err
	}
	return raw[:size], nil
}

func DeallocSlab(ptr []byte) error {
	err := unix.Munmap(ptr[:cap(ptr)])
	if err != nil {
		slog.Error("DeallocSlab", "err", err)
	}
	return err
}

type IoMgr struct {
	log			*slog.Logger
	ring 		*giouring.Ring
	entries		uint32
	cpu			int

	opQueue		chan *Op
	opSem		chan struct{}
	// ops on the ring, cqe user data is the ticket. Only the ring goroutine touches it.
	onRing		util.SlotMap[*Op]

	die			chan struct{}
	dead		chan struct{}
	closeOnce	sync.Once
}

// cpu < 0 leaves the ring goroutine unpinned
func CreateIoMgr(entries uint32, cpu int) (*IoMgr, error) {
	log := slog.With("src", "IoMgr")

	ring, err := giouring.CreateRing(entries)
	if err != nil { return nil, err }

	iomgr := IoMgr {
		log: 		log,
		ring: 		ring,
		entries:	entries,
		cpu:		cpu,
		opQueue: 	make(chan *Op, OP_Q_SIZE),
		opSem: 		make(chan struct{}, entries),
		onRing:		util.CreateSlotMap[*Op](int(entries)),
		die:		make(chan struct{}),
		dead:		make(chan struct{}),
	}

	log.Debug("CreateIoMgr", "entries", entries, "cpu", cpu)
	go iomgr.ringlord()
	return &iomgr, nil
}

// Ops already handed to Submit are completed before the ring is torn down.
func (m *IoMgr) Close() {
	m.closeOnce.Do(func() {
		close(m.die)
		<- m.dead
		m.ring.QueueExit()
	})
}

type OpCode uint16
const (
	OpNop 	OpCode = iota
	OpWrite
	OpRead
	OpSync
	OpAllocate
)

// an op may have at most 24 sub-operations, they are linked so the kernel runs them in
// order and a failure cancels the rest.
const OP_MAX_OPS = 24
type Op struct {
	Fd		int
	Bufs	[OP_MAX_OPS]uintptr
	Lens	[OP_MAX_OPS]uint32
	Offs	[OP_MAX_OPS]uint64
	Count   uint16

	seen	uint16
	sqes	uint16
	ticket	int

	Ch 		chan struct{} // set by caller, signalled once per accepted Submit

	Res		int32 // first negative cqe result, 0 otherwise
	Total	int64 // sum of non-negative cqe results (excluding fsync)
	Opcode	OpCode
	done 	bool
	Sync 	bool
}

func (op *Op) Reset(opcode OpCode, fd int) {
	op.Opcode = opcode
	op.Fd = fd
	op.Count = 0
	op.Sync = false
	op.Res = 0
	op.Total = 0
}

// Returns false if the op is full
func (op *Op) AddSlice(buf []byte, off uint64) bool {
	if int(op.Count) == OP_MAX_OPS || len(buf) == 0 { return false }
	op.Bufs[op.Count] = uintptr(unsafe.Pointer(&buf[0]))
	op.Lens[op.Count] = uint32(len(buf))
	op.Offs[op.Count] = off
	op.Count++
	return true
}

func (op *Op) sqeCount() uint16 {
	n := op.Count
	switch op.Opcode {
	case OpSync, OpAllocate:
		return 1
	case OpWrite:
		if op.Sync { n++ }
	}
	return n
}

// The op and the buffers it points at must be kept alive by the caller until Ch fires.
func (m *IoMgr) Submit(op *Op) error {
	n := op.sqeCount()
	if n == 0 || uint32(n) > m.entries { return ErrInvalidOp }
	select {
	case <- m.die:
		return ErrClosed
	default:
	}
	for range n {
		select {
		case m.opSem <- struct{}{}:
		case <- m.die:
			return ErrClosed
		}
	}
	select {
	case m.opQueue <- op:
		return nil
	case <- m.die:
		return ErrClosed
	}
}

func (m *IoMgr) prepSQEs(op *Op) {
	op.done = false
	op.seen = 0
	op.Res = 0
	op.Total = 0
	op.sqes = op.sqeCount()
	op.ticket = m.onRing.Acq(op)
	userData := uint64(op.ticket)

	switch op.Opcode {
	case OpNop:
		for i := range op.Count {
			sqe := m.ring.GetSQE()
			sqe.PrepareNop()
			sqe.UserData = userData
			if i < op.Count - 1 { sqe.Flags |= giouring.SqeIOLink }
		}

	case OpWrite:
		for i := range op.Count {
			sqe := m.ring.GetSQE()
			sqe.PrepareWrite(op.Fd, op.Bufs[i], op.Lens[i], op.Offs[i])
			sqe.UserData = userData
			if op.Sync || i < op.Count - 1 { sqe.Flags |= giouring.SqeIOLink }
		}
		if op.Sync {
			sqe := m.ring.GetSQE()
			sqe.PrepareFsync(op.Fd, 0)
			sqe.UserData = userData
		}

	case OpRead:
		for i := range op.Count {
			sqe := m.ring.GetSQE()
			sqe.PrepareRead(op.Fd, op.Bufs[i], op.Lens[i], op.Offs[i])
			sqe.UserData = userData
			if i < op.Count - 1 { sqe.Flags |= giouring.SqeIOLink }
		}

	case OpSync:
		sqe := m.ring.GetSQE()
		sqe.PrepareFsync(op.Fd, 0)
		sqe.UserData = userData

	case OpAllocate:
		// Offs[0] = start, Lens[0] = length
		sqe := m.ring.GetSQE()
		sqe.PrepareFallocate(op.Fd, 0, op.Offs[0], uint64(op.Lens[0]))
		sqe.UserData = userData

	default:
		m.log.Warn("Invalid opcode", "opcode", op.Opcode)
		op.Res = -int32(unix.EINVAL)
		op.done = true
		m.onRing.Rel(op.ticket)
		op.Ch <- struct{}{}
	}
}

func (m *IoMgr) collect(op *Op) uint {
	m.prepSQEs(op)
	if op.done {
		// rejected before reaching the ring
		for range op.sqes { <- m.opSem }
		return 0
	}
	return uint(op.sqes)
}

// "Those who sow the good seed
// Shall surely reap"
func (m *IoMgr) ringlord() {
	defer close(m.dead)

	if m.cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		var cpuSet unix.CPUSet
		cpuSet.Zero()
		cpuSet.Set(m.cpu)
		err := unix.SchedSetaffinity(0, &cpuSet)
		if err != nil { m.log.Warn("Couldn't set core affinity for ring manager", "cpu", m.cpu, "err", err) }
	}

	var queued   uint = 0 // SQEs that we have "got" and prepared from the opQueue
	var inflight uint = 0 // SQEs that have been SUBMITTED
	dying := false

	// 1. We collect submitted ops from our worker-facing opQueue, and get+prepare SQEs
	// 2. We submit new ops to the submission-queue
	// 3. We reap completed CQEs
	// Unlike a database pager our callers are blocked workers, so when there is nothing
	// new to submit we block in the kernel for a completion instead of spinning.
	for {
		// STAGE 1
		if inflight == 0 && queued == 0 {
			if dying { return }
			select {
			case op := <- m.opQueue:
				queued += m.collect(op)
			case <- m.die:
				dying = true
			}
		}
		// Non-blocking
		COLLECT: for {
			select {
			case op := <- m.opQueue:
				queued += m.collect(op)
			default:
				break COLLECT
			}
		}

		// STAGE 2
		if queued > 0 {
			submitted, err := m.ring.Submit()
			if err != nil && err != unix.ETIME && err != unix.EINTR {
				m.log.Error("Submit", "err", err)
			}
			queued   -= submitted
			inflight += submitted
		}

		// STAGE 3
		reaped := 0
		for inflight > 0 {
			cqe, err := m.ring.PeekCQE()
			if err == unix.EAGAIN || err == unix.EINTR || err == unix.ETIME {
				break
			} else if err != nil {
				m.log.Error("Peek cqe fatal error", "err", err)
				panic("Something wrong with your IO_URING!")
			}
			if cqe == nil { break }

			inflight--
			reaped++
			if op, ok := m.onRing.Get(int(cqe.UserData)); ok {
				m.complete(op, cqe.Res)
			} else {
				m.log.Error("cqe for unknown ticket", "ticket", cqe.UserData, "res", cqe.Res)
			}
			m.ring.CQESeen(cqe)
			<- m.opSem
		}

		if reaped == 0 && inflight > 0 && queued == 0 {
			// nothing ready and nothing to submit, park until the kernel has something
			_, err := m.ring.SubmitAndWait(1)
			if err != nil && err != unix.ETIME && err != unix.EINTR && err != unix.EAGAIN {
				m.log.Error("SubmitAndWait", "err", err)
			}
		}
	}
}

func (m *IoMgr) complete(op *Op, res int32) {
	op.seen++
	if op.done { return }

	isSync := op.Opcode == OpWrite && op.Sync && op.seen == op.sqes
	if res < 0 {
		if op.Res == 0 { op.Res = res }
	} else if !isSync {
		op.Total += int64(res)
	}

	if op.seen == op.sqes {
		m.onRing.Rel(op.ticket)
		op.done = true
		op.Ch <- struct{}{}
	}
}
