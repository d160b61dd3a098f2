// Command webtexmon launches a browser engine through webtex and shows its
// instances: state, render path, size and frame rate. In a terminal it runs
// an interactive monitor; otherwise it prints a status line per instance
// every second.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"golang.org/x/term"

	"github.com/gogpu/webtex"
	"github.com/gogpu/webtex/internal/journal"
)

// stubEngine is the engine used when -engine is not given.
const stubEngine = "webtex-stub-engine"

func main() {
	var (
		enginePath  = flag.String("engine", "", "engine executable (default: "+stubEngine+" from PATH or next to webtexmon)")
		engineArgs  = flag.String("engine-args", "", "extra engine arguments, space separated")
		url         = flag.String("url", webtex.DefaultURL, "page to open")
		size        = flag.String("size", "800x600", "view size as WIDTHxHEIGHT")
		scale       = flag.Float64("scale", 1, "device scale factor")
		count       = flag.Int("n", 1, "instances to open at start (headless mode)")
		dataDir     = flag.String("data", "", "engine data directory (empty for an in-memory profile)")
		perInstance = flag.Bool("per-instance", false, "one engine process per instance")
		headless    = flag.Bool("headless", false, "print status lines even on a terminal")
		duration    = flag.Duration("duration", 0, "stop after this long in headless mode (0 runs until interrupted)")
		history     = flag.Int("history", 0, "print the last N journal entries of -data and exit")
		logFile     = flag.String("log", "", "write logs to this file")
		verbose     = flag.Bool("v", false, "debug logging")
		prof        = flag.String("profile", "", "profile mode: cpu, mem, block, mutex or trace")
		profDir     = flag.String("profile-dir", ".", "directory for profile output")
	)
	flag.Parse()

	if *history > 0 {
		if err := printHistory(*dataDir, *history); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	stopProfile := func() {}
	if *prof != "" {
		mode, err := profileMode(*prof)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		p := profile.Start(mode, profile.ProfilePath(*profDir), profile.NoShutdownHook)
		stopProfile = p.Stop
	}
	defer stopProfile()

	interactive := !*headless && term.IsTerminal(int(os.Stdout.Fd()))
	closeLog, err := setupLogging(*logFile, *verbose, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	template := webtex.DefaultInstanceConfig()
	template.URL = *url
	template.ScaleFactor = *scale
	if template.Size, err = parseSize(*size); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	engine, err := resolveEngine(*enginePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts := []webtex.Option{
		webtex.WithEngine(engine, strings.Fields(*engineArgs)...),
		webtex.WithProcessPerInstance(*perInstance),
	}
	if *dataDir != "" {
		opts = append(opts, webtex.WithDataDir(*dataDir))
	}

	if err := run(opts, template, *count, interactive, *duration); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stopProfile()
		os.Exit(1)
	}
}

func run(opts []webtex.Option, template webtex.InstanceConfig, count int, interactive bool, d time.Duration) error {
	core, err := webtex.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := core.Close(ctx); err != nil {
			webtex.Logger().Warn("webtexmon: close", "err", err)
		}
	}()

	mon := newMonitor(core)
	if interactive {
		return runTUI(mon, template)
	}
	return runHeadless(mon, template, count, d)
}

func runHeadless(mon *monitor, template webtex.InstanceConfig, count int, d time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	for range max(count, 1) {
		id, err := mon.core.CreateInstance(ctx, template)
		if err != nil {
			return err
		}
		mon.add(id, template.URL)
	}

	pump := time.NewTicker(pumpInterval)
	defer pump.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pump.C:
			mon.tick()
		case <-report.C:
			for _, r := range mon.snapshot() {
				fmt.Println(r.line())
			}
		}
	}
}

func printHistory(dir string, n int) error {
	if dir == "" {
		return errors.New("-history needs -data")
	}
	ctx := context.Background()
	j, err := journal.Open(ctx, filepath.Join(dir, journal.FileName))
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, n)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		line := fmt.Sprintf("%s  %-18s pid=%-6d", e.Time.Local().Format(time.DateTime), e.Kind, e.PID)
		if e.Instance != "" {
			line += " instance=" + e.Instance
		}
		if e.ExitCode != nil {
			line += fmt.Sprintf(" exit=%d", *e.ExitCode)
		}
		if e.Detail != "" {
			line += " " + e.Detail
		}
		fmt.Println(line)
	}
	crashes, err := j.Crashes(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("engine crashes in the last 24h: %d\n", crashes)
	return nil
}

// setupLogging routes webtex logs to a file, or to stderr outside the TUI.
func setupLogging(path string, verbose, interactive bool) (func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log: %w", err)
		}
		webtex.SetLogger(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))
		return func() { f.Close() }, nil
	case interactive:
		// The TUI owns the terminal.
		return func() {}, nil
	default:
		webtex.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return func() {}, nil
	}
}

func parseSize(s string) (webtex.Size, error) {
	var sz webtex.Size
	if _, err := fmt.Sscanf(s, "%dx%d", &sz.Width, &sz.Height); err != nil || sz.Empty() {
		return webtex.Size{}, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	return sz, nil
}

func profileMode(name string) (func(*profile.Profile), error) {
	switch name {
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfile, nil
	case "block":
		return profile.BlockProfile, nil
	case "mutex":
		return profile.MutexProfile, nil
	case "trace":
		return profile.TraceProfile, nil
	default:
		return nil, fmt.Errorf("unknown profile mode %q", name)
	}
}

// resolveEngine finds the engine executable.
func resolveEngine(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if p, err := exec.LookPath(stubEngine); err == nil {
		return p, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	p := filepath.Join(filepath.Dir(self), stubEngine)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("no engine given and %s not found: %w", stubEngine, err)
	}
	return p, nil
}
