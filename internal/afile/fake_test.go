package afile

import (
	"mooio/internal/dispatch"

	"golang.org/x/sys/unix"
)

// fakeDispatcher resolves nothing on its own. Tests resolve ops by hand, in or out of
// order, or flush everything the way a real dispatcher would.
type fakeDispatcher struct {
	ops		[]*dispatch.Op
	calls	map[*dispatch.Op][]func(dispatch.Result)
	err		error // when set, submissions fail with it
	handle	*dispatch.Handle
}

func createFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		calls: 	make(map[*dispatch.Op][]func(dispatch.Result)),
		handle: dispatch.NewHandle(-1, "fake", dispatch.FlagReadWrite),
	}
}

func (fd *fakeDispatcher) add(kind dispatch.OpKind, pred *dispatch.Op) (*dispatch.Op, error) {
	if fd.err != nil { return nil, fd.err }
	op := dispatch.NewOp(uint64(len(fd.ops) + 1), kind, pred)
	fd.ops = append(fd.ops, op)
	return op, nil
}

func (fd *fakeDispatcher) SubmitOpen(string, dispatch.Flags) (*dispatch.Op, error) {
	return fd.add(dispatch.KindOpen, nil)
}

func (fd *fakeDispatcher) SubmitRead(pred *dispatch.Op, _ []byte, _ int64) (*dispatch.Op, error) {
	return fd.add(dispatch.KindRead, pred)
}

func (fd *fakeDispatcher) SubmitAppend(pred *dispatch.Op, _ []byte, _ int64) (*dispatch.Op, error) {
	return fd.add(dispatch.KindWrite, pred)
}

func (fd *fakeDispatcher) SubmitReserve(pred *dispatch.Op, _ int64, _ int64) (*dispatch.Op, error) {
	return fd.add(dispatch.KindTruncate, pred)
}

func (fd *fakeDispatcher) SubmitClose(pred *dispatch.Op) (*dispatch.Op, error) {
	return fd.add(dispatch.KindClose, pred)
}

func (fd *fakeDispatcher) Call(op *dispatch.Op, fn func(dispatch.Result)) {
	if op.Resolved() {
		fn(op.Result())
		return
	}
	fd.calls[op] = append(fd.calls[op], fn)
}

func (fd *fakeDispatcher) resolve(op *dispatch.Op, res dispatch.Result) {
	op.Complete(res)
	for _, fn := range fd.calls[op] {
		fn(res)
	}
	delete(fd.calls, op)
}

// flush resolves every unresolved op in submission order.
func (fd *fakeDispatcher) flush() {
	for _, op := range fd.ops {
		if op.Resolved() { continue }

		h := fd.handle
		if op.Pred() != nil { h = op.Pred().Result().Handle }

		switch {
		case op.Canceled():
			fd.resolve(op, dispatch.Result{ Handle: h, Kind: dispatch.ResultStatus, Err: unix.ECANCELED })
		case h == nil:
			fd.resolve(op, dispatch.Result{ Kind: dispatch.ResultNone })
		default:
			fd.resolve(op, dispatch.Result{ Handle: h })
		}
	}
}
