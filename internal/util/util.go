package util

import (
	"fmt"
	"strings"
)

// HexDump renders the first `limit` bytes of data as rows of 16 bytes grouped in u16
// chunks. Used for diffs when a read back doesn't match what was written.
func HexDump(data []byte, limit int) string {
	if limit > len(data) || limit < 0 {
		limit = len(data)
	}

	const bytesPerRow = 16
	var b strings.Builder
	fmt.Fprintf(&b, "┏━━━━━━━━━━┳ %d bytes (0x%x)\n", limit, limit)

	for i := 0; i < limit; i += bytesPerRow {
		fmt.Fprintf(&b, "┃ 0x%06x ┃ ", i)

		for j := 0; j < bytesPerRow; j++ {
			if i+j < limit {
				fmt.Fprintf(&b, "%02x", data[i+j])
			} else {
				b.WriteString("  ")
			}
			if (j+1)%2 == 0 {
				b.WriteByte(' ')
			}
			// Space every 8 bytes to keep your eyes from crossing
			if (j+1)%8 == 0 {
				b.WriteByte(' ')
			}
		}
		b.WriteString("┃ ")
		for j := 0; j < bytesPerRow && i+j < limit; j++ {
			ch := data[i+j]
			if ch < 0x20 || ch > 0x7e {
				ch = '.'
			}
			b.WriteByte(ch)
		}
		b.WriteByte('\n')
	}
	b.WriteString("┗━━━━━━━━━━┛\n")

	return b.String()
}

// FirstDiff returns the index of the first byte where a and b differ, or -1 if one is
// a prefix of the other and they have the same length.
func FirstDiff(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
