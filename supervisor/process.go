// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for the process.
const DefaultShutdownTimeout = 5 * time.Second

// Environment variables telling the engine which descriptors carry the
// control and data streams.
const (
	EnvControlFD = "WEBTEX_CONTROL_FD"
	EnvDataFD    = "WEBTEX_DATA_FD"
)

// Config describes how to start the engine process.
type Config struct {
	Path string
	Args []string

	// Env is appended to the current environment.
	Env []string
	Dir string

	// Stderr receives the process's standard error. Nil discards it.
	Stderr io.Writer

	// ShutdownTimeout bounds Shutdown. Zero selects DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return c.ShutdownTimeout
}

// Process is a started engine process.
type Process interface {
	PID() int

	// Control is the control-plane stream.
	Control() io.ReadWriteCloser

	// Data is the data-plane stream, or nil when handles travel on the
	// control plane.
	Data() io.ReadWriteCloser

	// Wait blocks until the process exits. It is called exactly once.
	Wait() (ExitStatus, error)

	// Kill terminates the process immediately.
	Kill() error
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context, cfg Config) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, cfg Config) (Process, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, cfg Config) (Process, error) {
	return f(ctx, cfg)
}

// ExecLauncher starts the engine with os/exec.
type ExecLauncher struct{}

// Launch starts cfg.Path. Spawn failures wrap ErrSpawn.
func (ExecLauncher) Launch(ctx context.Context, cfg Config) (Process, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: no engine executable configured", ErrSpawn)
	}
	if _, err := exec.LookPath(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	// The process outlives ctx: it is stopped by Shutdown or Kill only.
	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = cfg.Stderr

	p, err := startWithStreams(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	if err := ctx.Err(); err != nil {
		_ = p.Kill()
		_, _ = p.Wait()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return p, nil
}

// execProcess is a Process backed by exec.Cmd.
type execProcess struct {
	cmd     *exec.Cmd
	control io.ReadWriteCloser
	data    io.ReadWriteCloser
}

func (p *execProcess) PID() int                    { return p.cmd.Process.Pid }
func (p *execProcess) Control() io.ReadWriteCloser { return p.control }
func (p *execProcess) Data() io.ReadWriteCloser    { return p.data }

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ExitStatus{Code: -1, Desc: err.Error()}, err
	}
	ps := p.cmd.ProcessState
	return ExitStatus{Code: ps.ExitCode(), Desc: ps.String()}, nil
}
