package main

import (
	"context"
	"errors"
	"hash"
	"io"
	"log/slog"

	"mooio/internal/afile"
	"mooio/internal/dispatch"
	"mooio/internal/evloop"
	"mooio/internal/util"

	"github.com/cespare/xxhash"
)

const dumpBytes = 64

type Report struct {
	Bytes		int64
	ReadSum		uint64
	WriteSum	uint64
	Err			error
}

// copier streams one file into another through a single buffer: read, write what was
// read, read again, until the source hits EOF. Everything runs in callbacks on exec.
type copier struct {
	log			*slog.Logger
	src			*afile.File
	dst			*afile.File
	buf			[]byte

	rsum		hash.Hash64
	wsum		hash.Hash64
	copied		int64
	opened		int
	closing		bool
	err			error
}

func createCopier(disp afile.Dispatcher, exec evloop.Executor, buf []byte) *copier {
	return &copier{
		log: 	slog.With("src", "Copier"),
		src: 	afile.CreateFile(disp, exec),
		dst: 	afile.CreateFile(disp, exec),
		buf: 	buf,
		rsum: 	xxhash.New(),
		wsum: 	xxhash.New(),
	}
}

func (cp *copier) Start(src string, dst string) {
	cp.src.Open(src, dispatch.FlagRead, cp.onOpen)
	cp.dst.Open(dst, dispatch.FlagWrite|dispatch.FlagCreate|dispatch.FlagTruncate, cp.onOpen)
}

// Report is only meaningful once the executor has run dry.
func (cp *copier) Report() Report {
	return Report{
		Bytes: 		cp.copied,
		ReadSum: 	cp.rsum.Sum64(),
		WriteSum: 	cp.wsum.Sum64(),
		Err: 		cp.err,
	}
}

func (cp *copier) onOpen(err error) {
	if cp.closing { return }
	if err != nil {
		cp.fail(err)
		return
	}
	cp.opened++
	if cp.opened == 2 {
		cp.src.Read(cp.buf, cp.onRead)
	}
}

func (cp *copier) onRead(err error, n int) {
	if errors.Is(err, io.EOF) {
		cp.finish()
		return
	}
	if err != nil {
		cp.fail(err)
		return
	}

	if cp.copied == 0 && cp.log.Enabled(context.Background(), slog.LevelDebug) {
		cp.log.Debug("first chunk\n" + util.HexDump(cp.buf[:n], dumpBytes))
	}
	cp.rsum.Write(cp.buf[:n])
	cp.dst.Write(cp.buf[:n], func(err error, wrote int) { cp.onWrite(err, wrote, n) })
}

func (cp *copier) onWrite(err error, n int, want int) {
	if err == nil && n != want { err = io.ErrShortWrite }
	if err != nil {
		cp.fail(err)
		return
	}
	cp.wsum.Write(cp.buf[:n])
	cp.copied += int64(n)
	cp.src.Read(cp.buf, cp.onRead)
}

func (cp *copier) fail(err error) {
	if cp.err == nil { cp.err = err }
	cp.finish()
}

func (cp *copier) finish() {
	if cp.closing { return }
	cp.closing = true
	cp.src.Close(cp.onClose)
	cp.dst.Close(cp.onClose)
}

func (cp *copier) onClose(err error) {
	// a side that never opened has nothing to close
	if err == nil || errors.Is(err, afile.ErrBadFd) { return }
	if cp.err == nil { cp.err = err }
}
