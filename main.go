package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	c "mooio/internal"
	"mooio/internal/dispatch"
	"mooio/internal/evloop"
	"mooio/internal/iomgr"

	"github.com/lmittmann/tint"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	})))

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: mooio <source> <target>")
		os.Exit(2)
	}

	opts := dispatch.DefaultOptions()
	if v := os.Getenv(c.ENV_ENGINE); v != "" {
		kind, ok := dispatch.ParseEngine(v)
		if !ok {
			slog.Error("unknown engine", "env", c.ENV_ENGINE, "value", v)
			os.Exit(2)
		}
		opts.Engine = kind
	}

	d, err := dispatch.CreateDispatcher(opts)
	if err != nil {
		slog.Error("CreateDispatcher", "engine", opts.Engine, "err", err)
		os.Exit(1)
	}
	defer d.Close()

	buf, err := iomgr.AllocSlab(c.COPY_BUF_SIZE)
	if err != nil {
		slog.Error("AllocSlab", "err", err)
		os.Exit(1)
	}
	defer iomgr.DeallocSlab(buf)

	loop := evloop.CreateLoop()
	cp := createCopier(d, loop, buf)

	start := time.Now()
	cp.Start(os.Args[1], os.Args[2])
	loop.Run()

	rep := cp.Report()
	if rep.Err != nil {
		slog.Error("copy failed", "src", os.Args[1], "dst", os.Args[2], "err", rep.Err)
		os.Exit(1)
	}
	slog.Info("copied",
		"bytes", rep.Bytes,
		"engine", opts.Engine,
		"took", time.Since(start),
		"src_xxh64", fmt.Sprintf("%016x", rep.ReadSum),
		"dst_xxh64", fmt.Sprintf("%016x", rep.WriteSum),
	)
}
