// Constants
package internal

const _OS_PAGE		= 0x1000
const ALIGN			= uint64(_OS_PAGE)

// io_uring takes u32 lengths per SQE, we split big buffers into chunks of this size and
// link them together. 24 chunks (iomgr.OP_MAX_OPS) of 1MiB per batch.
const CHUNK_SIZE	= 0x10_0000

const F_OPEN_PERM 	= 0b_000_110_100_000

const DEFAULT_WORKERS		= 4
const DEFAULT_RING_ENTRIES	= 0x80
const DEFAULT_RING_CPU		= -1 // -1 = dont pin the ring goroutine

// Copy tool buffer. Aligned to the page size so it can be used with O_DIRECT.
const COPY_BUF_SIZE = _OS_PAGE << 4

// Env var that picks the dispatch engine for the copy tool ("syscall" or "ring")
const ENV_ENGINE = "MOOIO_ENGINE"

func AlignUp(n uint64) uint64 {
	return (n + ALIGN - 1) &^ (ALIGN - 1)
}
