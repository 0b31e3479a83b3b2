package dispatch

import (
	"golang.org/x/sys/unix"
)

// engine does the actual I/O for a worker. Calls block the worker until done.
type engine interface {
	// reads until buf is full or EOF
	read(fd int, buf []byte, off int64) (int, error)
	// writes all of buf unless an error stops it, fsyncs after when sync is set
	write(fd int, buf []byte, off int64, sync bool) (int, error)
	// grows the file from `from` to `to` bytes
	extend(fd int, from int64, to int64) error
	close() error
}

type EngineKind uint8
const (
	EngineSyscall EngineKind = iota
	EngineRing
)

func (k EngineKind) String() string {
	if k == EngineRing { return "ring" }
	return "syscall"
}

func ParseEngine(s string) (EngineKind, bool) {
	switch s {
	case "", "syscall":
		return EngineSyscall, true
	case "ring", "io_uring", "iouring":
		return EngineRing, true
	}
	return EngineSyscall, false
}

// plain positional syscalls, works everywhere x/sys/unix does
type syscallEngine struct{}

func (syscallEngine) read(fd int, buf []byte, off int64) (int, error) {
	done := 0
	for done < len(buf) {
		n, err := unix.Pread(fd, buf[done:], off + int64(done))
		if err == unix.EINTR { continue }
		if err != nil { return done, err }
		if n == 0 { break }
		done += n
	}
	return done, nil
}

func (syscallEngine) write(fd int, buf []byte, off int64, sync bool) (int, error) {
	done := 0
	for done < len(buf) {
		n, err := unix.Pwrite(fd, buf[done:], off + int64(done))
		if err == unix.EINTR { continue }
		if err != nil { return done, err }
		if n == 0 { return done, unix.EIO }
		done += n
	}
	if sync {
		if err := unix.Fsync(fd); err != nil { return done, err }
	}
	return done, nil
}

func (syscallEngine) extend(fd int, from int64, to int64) error {
	return unix.Ftruncate(fd, to)
}

func (syscallEngine) close() error { return nil }
