package dispatch

import (
	"strings"

	"golang.org/x/sys/unix"
)

// Flags describe how a file is opened and how writes behave.
type Flags uint16
const (
	FlagRead Flags = 1 << iota
	FlagWrite
	FlagCreate
	FlagTruncate
	// Writes start at the end of the file as observed when it was opened. This is
	// tracked by the caller, the descriptor is NOT opened O_APPEND (pwrite would ignore
	// the offset on linux).
	FlagAppend
	// O_DIRECT - buffers, offsets and lengths must be aligned (see iomgr.AllocSlab)
	FlagDirect
	// fsync after every write
	FlagSync
)

const FlagReadWrite = FlagRead | FlagWrite

func (f Flags) Readable() bool { return f&FlagRead != 0 }
func (f Flags) Writable() bool { return f&FlagWrite != 0 }

func (f Flags) openMode() int {
	mode := unix.O_CLOEXEC
	switch {
	case f.Readable() && f.Writable():
		mode |= unix.O_RDWR
	case f.Writable():
		mode |= unix.O_WRONLY
	default:
		mode |= unix.O_RDONLY
	}
	if f&FlagCreate != 0 	{ mode |= unix.O_CREAT }
	if f&FlagTruncate != 0 	{ mode |= unix.O_TRUNC }
	if f&FlagDirect != 0 	{ mode |= oDirect }
	return mode
}

func (f Flags) String() string {
	names := []string{"read", "write", "create", "truncate", "append", "direct", "sync"}
	var parts []string
	for i, n := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 { return "none" }
	return strings.Join(parts, "|")
}
