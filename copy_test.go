package main

import (
	"bytes"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mooio/internal/afile"
	"mooio/internal/dispatch"
	"mooio/internal/evloop"
	"mooio/internal/util"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cespare/xxhash"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))
	os.Exit(m.Run())
}

func copyFile(t *testing.T, engine dispatch.EngineKind, src string, dst string, bufSize int) Report {
	opts := dispatch.DefaultOptions()
	opts.Engine = engine
	d, err := dispatch.CreateDispatcher(opts)
	if err != nil {
		t.Skip("engine unavailable:", err)
	}
	defer d.Close()

	loop := evloop.CreateLoop()
	cp := createCopier(d, loop, make([]byte, bufSize))
	cp.Start(src, dst)
	loop.Run()
	return cp.Report()
}

func Test_Copy(t *testing.T) {
	seed := [32]byte{7}
	faker := gofakeit.NewFaker(rand.NewChaCha8(seed), true)

	var data bytes.Buffer
	for data.Len() < 50_000 {
		data.WriteString(faker.DomainName())
		data.WriteString(faker.ProductUPC())
	}

	for _, engine := range []dispatch.EngineKind{ dispatch.EngineSyscall, dispatch.EngineRing } {
		t.Run(engine.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src.moo")
			dst := filepath.Join(dir, "dst.moo")
			require.NoError(t, os.WriteFile(src, data.Bytes(), 0o644))
			// stale content longer than the source gets truncated away
			require.NoError(t, os.WriteFile(dst, bytes.Repeat([]byte{'x'}, 60_000), 0o644))

			rep := copyFile(t, engine, src, dst, 4096)
			require.NoError(t, rep.Err)
			assert.Equal(t, int64(data.Len()), rep.Bytes)
			assert.Equal(t, xxhash.Sum64(data.Bytes()), rep.ReadSum)
			assert.Equal(t, rep.ReadSum, rep.WriteSum)

			got, err := os.ReadFile(dst)
			require.NoError(t, err)
			if i := util.FirstDiff(data.Bytes(), got); i != -1 {
				t.Fatalf("dst differs at %d\n%s", i, util.HexDump(got[i:], 64))
			}
		})
	}
}

func Test_Copy_Empty(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.moo")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	rep := copyFile(t, dispatch.EngineSyscall, src, filepath.Join(dir, "dst.moo"), 64)
	require.NoError(t, rep.Err)
	assert.Zero(t, rep.Bytes)

	st, err := os.Stat(filepath.Join(dir, "dst.moo"))
	require.NoError(t, err)
	assert.Zero(t, st.Size())
}

func Test_Copy_Missing_Source(t *testing.T) {
	dir := t.TempDir()
	rep := copyFile(t, dispatch.EngineSyscall, filepath.Join(dir, "nope.moo"), filepath.Join(dir, "dst.moo"), 64)
	assert.ErrorIs(t, rep.Err, afile.ErrNotFound)
	assert.Zero(t, rep.Bytes)
}
