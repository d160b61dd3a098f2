// Command webtex-stub-engine is a stand-in browser engine. It speaks the
// webtex engine protocol on the streams its host set up and paints solid
// color frames, so hosts and webtexmon can run without a real engine.
//
// Host switches (--gpu-*, --user-data-dir, ...) are accepted and the GPU
// pin is honored; the stub's own options use the -stub- prefix:
//
//	webtexmon -engine webtex-stub-engine -engine-args "-stub-fps=30 -stub-echo"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gogpu/webtex/enginetest"
	"github.com/gogpu/webtex/gpuid"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ipc"
	"github.com/gogpu/webtex/supervisor"
)

const stubPrefix = "-stub-"

func main() {
	own, host := splitArgs(os.Args[1:])

	fs := flag.NewFlagSet("webtex-stub-engine", flag.ExitOnError)
	var (
		name        = fs.String("stub-name", "webtex-stub", "engine name reported to the host")
		fps         = fs.Int("stub-fps", 0, "repaint every instance this many times per second (0 paints on change only)")
		echo        = fs.Bool("stub-echo", false, "echo channel messages back to the page's host")
		accelerated = fs.Bool("stub-accelerated", false, "export fake shared textures when the host asks for them")
		pool        = fs.Int("stub-pool", gpushare.DefaultPoolLimit, "unreleased shared textures allowed per instance")
		verbose     = fs.Bool("stub-v", false, "debug logging to stderr")
	)
	_ = fs.Parse(own)

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	// stdout may carry the control stream.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	enginetest.SetLogger(log)
	ipc.SetLogger(log)
	gpushare.SetLogger(log)

	cfg := enginetest.Config{
		Name:        *name,
		AutoPaint:   true,
		Accelerated: *accelerated,
		PoolLimit:   *pool,
		Echo:        *echo,
	}
	if id, ok := gpuid.ParseLaunchArgs(host); ok {
		cfg.Adapter = id.Key()
		log.Info("pinned to host adapter", "adapter", id.String())
	}

	if err := run(cfg, *fps, log); err != nil {
		fmt.Fprintf(os.Stderr, "webtex-stub-engine: %v\n", err)
		os.Exit(1)
	}
}

// splitArgs separates the stub's own flags from the switches the host
// passes to every engine.
func splitArgs(args []string) (own, host []string) {
	for _, a := range args {
		if strings.HasPrefix(a, stubPrefix) || strings.HasPrefix(a, "-"+stubPrefix) {
			own = append(own, a)
		} else {
			host = append(host, a)
		}
	}
	return own, host
}

func run(cfg enginetest.Config, fps int, log *slog.Logger) error {
	control, data, err := supervisor.EngineStreams()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := enginetest.New(cfg)
	if fps > 0 {
		go repaint(ctx, e, time.Second/time.Duration(fps), log)
	}

	err = e.Serve(ctx, control, data)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func repaint(ctx context.Context, e *enginetest.Engine, every time.Duration, log *slog.Logger) {
	select {
	case <-e.Ready():
	case <-ctx.Done():
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.Done():
			return
		case <-t.C:
			for _, id := range e.Views() {
				if err := e.Paint(id); err != nil && !errors.Is(err, gpushare.ErrResourceBusy) {
					log.Debug("repaint failed", "instance", id, "err", err)
				}
			}
		}
	}
}
