//go:build !linux

package dispatch

import "errors"

var ErrRingUnsupported = errors.New("dispatch: io_uring engine is linux only")

type ringEngine struct{ syscallEngine }

func newRingEngine(entries uint32, cpu int, chunk int) (*ringEngine, error) {
	return nil, ErrRingUnsupported
}
