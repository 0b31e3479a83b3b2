//go:build linux
package iomgr

import (
	"fmt"
	"strings"
)

func (c OpCode) String() string {
	switch c {
	case OpNop:
		return "NOP"
	case OpWrite:
		return "WRITE"
	case OpRead:
		return "READ"
	case OpSync:
		return "FSYNC"
	case OpAllocate:
		return "FALLOCATE"
	}
	return fmt.Sprintf("OpCode(%d)", uint16(c))
}

func (o *Op) String() string {
	if o == nil {
		return "<nil>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Op | Opcode: %v, Fd: 0x%x, Done: %v, Count: %d, Seen: %d/%d, Res: %d, Total: 0x%x\n",
		o.Opcode, o.Fd, o.done, o.Count, o.seen, o.sqes, o.Res, o.Total)

	switch o.Opcode {
	case OpWrite, OpRead:
		for i := range min(OP_MAX_OPS, int(o.Count)) {
			var d string
			if uint16(i + 1) == o.seen {
				d = ">"
			} else {
				d = "|"
			}
			fmt.Fprintf(&b, "   %s [%02d] %-9s [ Buf: @0x%x | Len: 0x%08x | Off: 0x%08x]\n",
				d, i, o.Opcode, o.Bufs[i], o.Lens[i], o.Offs[i])
		}
		if o.Opcode == OpWrite && o.Sync {
			var d string
			if o.seen == o.sqes {
				d = ">"
			} else {
				d = "|"
			}
			fmt.Fprintf(&b, "   %s [%02d] FSYNC     [ ]\n", d, min(OP_MAX_OPS, int(o.Count)))
		}

	case OpSync:
		fmt.Fprintf(&b, "   > [%02d] FSYNC     [ ]\n", 0)
	case OpAllocate:
		fmt.Fprintf(&b, "   > [%02d] FALLOCATE [ Off: 0x%08x | Len: 0x%08x ]\n", 0, o.Offs[0], o.Lens[0])
	}

	return b.String()
}
