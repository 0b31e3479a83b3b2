package afile

import (
	"errors"

	"mooio/internal/dispatch"

	"golang.org/x/sys/unix"
)

// Every callback gets one of these, an errno passed through from the dispatcher, io.EOF
// (reads only) or nil.
var (
	ErrNotFound		= unix.ENOENT
	ErrBadFd		= unix.EBADF
	ErrCanceled		= unix.ECANCELED
	ErrBusy			= unix.EBUSY
)

// errors that never reached the dispatcher
func submitErr(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) { return errno }
	return ErrBadFd
}

func openErr(res dispatch.Result) error {
	switch res.Kind {
	case dispatch.ResultOk:
		if res.Handle == nil { return ErrNotFound }
		return nil
	case dispatch.ResultNone:
		return ErrNotFound
	case dispatch.ResultStatus:
		return res.Err
	}
	return ErrBadFd
}

func ioErr(res dispatch.Result) error {
	switch res.Kind {
	case dispatch.ResultOk:
		if res.Handle == nil { return ErrBadFd }
		return nil
	case dispatch.ResultStatus:
		return res.Err
	}
	return ErrBadFd
}

func closeErr(res dispatch.Result) error {
	switch res.Kind {
	case dispatch.ResultOk, dispatch.ResultNone:
		// None: the open never went through, there was nothing to close
		return nil
	case dispatch.ResultStatus:
		return res.Err
	}
	return ErrBadFd
}
