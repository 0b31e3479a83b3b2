//go:build linux

package iomgr

import (
	c "mooio/internal"

	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
		AddSource:  true,
	})))
	os.Exit(m.Run())
}

func tempfile(t *testing.T) string {
	dir := t.TempDir()
	return filepath.Join(dir, fmt.Sprintf("mooiotest%016x.moo", rand.Uint64()))
}

func fillRand(buf []byte) {
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7))
	for i := range buf {
		buf[i] = byte(r.Uint32())
	}
}

// io_uring is often disabled in containers/sandboxes
func createOrSkip(t *testing.T) *IoMgr {
	iomgr, err := CreateIoMgr(c.DEFAULT_RING_ENTRIES, c.DEFAULT_RING_CPU)
	if err != nil {
		t.Skip("io_uring unavailable:", err)
	}
	t.Cleanup(iomgr.Close)
	return iomgr
}

func openTemp(t *testing.T) int {
	fd, err := unix.Open(tempfile(t), unix.O_RDWR|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func submitWait(t *testing.T, m *IoMgr, op *Op) {
	require.NoError(t, m.Submit(op))
	<- op.Ch
}

func Test_AllocSlab_Aligned(t *testing.T) {
	slab, err := AllocSlab(c.COPY_BUF_SIZE + 1)
	require.NoError(t, err)
	assert.Equal(t, c.COPY_BUF_SIZE + 1, len(slab))
	assert.Equal(t, int(c.AlignUp(c.COPY_BUF_SIZE + 1)), cap(slab))
	assert.NoError(t, DeallocSlab(slab))
}

func Test_Iomgr_Linked_Write_Read(t *testing.T) {
	iomgr := createOrSkip(t)
	fd := openTemp(t)

	const CHUNKS = 4
	const CHUNK = 0x1000
	src := make([]byte, CHUNK * CHUNKS)
	dst := make([]byte, CHUNK * CHUNKS)
	fillRand(src)

	op := &Op{ Ch: make(chan struct{}, 1) }
	op.Reset(OpWrite, fd)
	op.Sync = true
	for i := range CHUNKS {
		assert.True(t, op.AddSlice(src[i*CHUNK:(i+1)*CHUNK], uint64(i*CHUNK)))
	}
	submitWait(t, iomgr, op)
	assert.Equal(t, int32(0), op.Res, op.String())
	assert.Equal(t, int64(len(src)), op.Total, op.String())

	op.Reset(OpRead, fd)
	for i := range CHUNKS {
		op.AddSlice(dst[i*CHUNK:(i+1)*CHUNK], uint64(i*CHUNK))
	}
	submitWait(t, iomgr, op)
	runtime.KeepAlive(src)
	runtime.KeepAlive(dst)
	assert.Equal(t, int32(0), op.Res, op.String())
	assert.Equal(t, int64(len(dst)), op.Total)
	assert.True(t, slices.Equal(src, dst), "read-back data didnt match")
}

func Test_Iomgr_Allocate_Extends(t *testing.T) {
	iomgr := createOrSkip(t)
	fd := openTemp(t)

	op := &Op{ Ch: make(chan struct{}, 1) }
	op.Reset(OpAllocate, fd)
	op.Offs[0] = 0
	op.Lens[0] = 0x3000
	submitWait(t, iomgr, op)
	if op.Res == -int32(unix.EOPNOTSUPP) {
		t.Skip("fallocate not supported on this filesystem")
	}
	assert.Equal(t, int32(0), op.Res)

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	assert.Equal(t, int64(0x3000), st.Size)
}

func Test_Iomgr_Bad_Fd(t *testing.T) {
	iomgr := createOrSkip(t)

	buf := make([]byte, 16)
	op := &Op{ Ch: make(chan struct{}, 1) }
	op.Reset(OpRead, -1)
	op.AddSlice(buf, 0)
	op.AddSlice(buf, 16)
	submitWait(t, iomgr, op)
	assert.Equal(t, -int32(unix.EBADF), op.Res)
	assert.Equal(t, int64(0), op.Total)
}

func Test_Iomgr_Invalid_Op(t *testing.T) {
	iomgr := createOrSkip(t)

	op := &Op{ Ch: make(chan struct{}, 1) }
	op.Reset(OpRead, 0)
	assert.ErrorIs(t, iomgr.Submit(op), ErrInvalidOp)
	assert.False(t, op.AddSlice(nil, 0))
}

func Test_Iomgr_Multi_Worker(t *testing.T) {
	iomgr := createOrSkip(t)
	fd := openTemp(t)

	const WORKERS = 4
	const OPS_PER_WORKER = 8
	const CHUNK = 0x1000
	const SIZE = CHUNK * WORKERS * OPS_PER_WORKER
	src := make([]byte, SIZE)
	dst := make([]byte, SIZE)
	fillRand(src)

	var wg sync.WaitGroup
	run := func(opcode OpCode, buf []byte) {
		for w := range WORKERS {
			wg.Add(1)
			go func() {
				defer wg.Done()
				op := &Op{ Ch: make(chan struct{}, 1) }
				for i := range OPS_PER_WORKER {
					off := (w * OPS_PER_WORKER + i) * CHUNK
					op.Reset(opcode, fd)
					op.AddSlice(buf[off:off+CHUNK], uint64(off))
					if err := iomgr.Submit(op); err != nil {
						t.Error(err)
						return
					}
					<- op.Ch
					if op.Res < 0 || op.Total != CHUNK {
						t.Error("bad op result", op.String())
					}
				}
			}()
		}
		wg.Wait()
	}

	run(OpWrite, src)
	run(OpRead, dst)
	assert.True(t, slices.Equal(src, dst), "read-back data didnt match")

	// every ticket handed to the ring came back
	iomgr.Close()
	assert.Zero(t, iomgr.onRing.Len())
}

func Test_Iomgr_Submit_After_Close(t *testing.T) {
	iomgr, err := CreateIoMgr(c.DEFAULT_RING_ENTRIES, c.DEFAULT_RING_CPU)
	if err != nil {
		t.Skip("io_uring unavailable:", err)
	}
	iomgr.Close()
	iomgr.Close()

	op := &Op{ Ch: make(chan struct{}, 1) }
	op.Reset(OpSync, 0)
	assert.ErrorIs(t, iomgr.Submit(op), ErrClosed)
}
