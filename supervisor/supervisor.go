// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package supervisor launches, monitors and stops browser engine processes.
//
// Each Supervisor owns one process and walks it through
//
//	NotStarted -> Launching -> Running -> (Crashed | Exiting) -> Terminated
//
// An exit while Running is a crash. A crash is reported to observers and is
// never followed by an automatic restart: the owner of the affected
// instances decides whether to create them again.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Observer is called for every state transition, in order.
type Observer func(Transition)

// Supervisor owns one engine process.
type Supervisor struct {
	launcher Launcher
	cfg      Config

	mu        sync.Mutex
	state     State
	proc      Process
	exit      ExitStatus
	acked     bool
	ack       chan struct{}
	exited    chan struct{}
	observers []Observer

	notifyMu sync.Mutex
}

// New creates a supervisor that starts cfg with l. A nil l selects
// ExecLauncher.
func New(l Launcher, cfg Config) *Supervisor {
	if l == nil {
		l = ExecLauncher{}
	}
	return &Supervisor{
		launcher: l,
		cfg:      cfg,
		ack:      make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Observe registers fn for future transitions.
func (s *Supervisor) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Process returns the running process, or nil before Start succeeded.
func (s *Supervisor) Process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Exited is closed when the process has exited.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// ExitStatus returns how the process ended. Valid after Exited is closed.
func (s *Supervisor) ExitStatus() ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Start launches the process and begins monitoring it. On failure the
// supervisor is Terminated and the error wraps ErrSpawn.
func (s *Supervisor) Start(ctx context.Context) (Process, error) {
	if err := s.transition(StateNotStarted, StateLaunching, Transition{}); err != nil {
		return nil, err
	}

	proc, err := s.launcher.Launch(ctx, s.cfg)
	if err != nil {
		if !errors.Is(err, ErrSpawn) {
			err = fmt.Errorf("%w: %w", ErrSpawn, err)
		}
		_ = s.transition(StateLaunching, StateTerminated, Transition{Err: err})
		close(s.exited)
		slogger().Error("supervisor: launch failed", "path", s.cfg.Path, "err", err)
		return nil, err
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()

	if err := s.transition(StateLaunching, StateRunning, Transition{PID: proc.PID()}); err != nil {
		return nil, err
	}
	slogger().Info("supervisor: engine started", "path", s.cfg.Path, "pid", proc.PID())

	go s.monitor(proc)
	return proc, nil
}

func (s *Supervisor) monitor(proc Process) {
	status, err := proc.Wait()

	s.mu.Lock()
	s.exit = status
	s.mu.Unlock()

	t := Transition{PID: proc.PID(), Exit: status, Err: err}
	// Fails when Shutdown moved the process to Exiting first.
	if s.transition(StateRunning, StateCrashed, t) == nil {
		slogger().Error("supervisor: engine exited unexpectedly", "pid", t.PID, "status", status.String())
	}
	_ = s.transition(s.State(), StateTerminated, t)
	close(s.exited)
}

// Acknowledge records that the process acknowledged a shutdown request.
func (s *Supervisor) Acknowledge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acked {
		s.acked = true
		close(s.ack)
	}
}

// Shutdown asks the process to exit by calling request (which sends the
// shutdown message) and waits for the exit, bounded by the configured
// timeout and ctx. On expiry the process is killed and the error wraps
// ErrShutdownTimeout. Shutting down a process that is not running returns
// nil once it has terminated.
func (s *Supervisor) Shutdown(ctx context.Context, request func() error) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateNotStarted:
		return nil
	case StateRunning:
		if err := s.transition(StateRunning, StateExiting, Transition{}); err != nil {
			// Lost the race with a crash.
			<-s.exited
			return nil
		}
	default:
		select {
		case <-s.exited:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if request != nil {
		if err := request(); err != nil {
			slogger().Warn("supervisor: shutdown request failed", "err", err)
		}
	}

	timer := time.NewTimer(s.cfg.shutdownTimeout())
	defer timer.Stop()

	var cause error
	select {
	case <-s.exited:
		return nil
	case <-timer.C:
		cause = fmt.Errorf("%w after %s", ErrShutdownTimeout, s.cfg.shutdownTimeout())
	case <-ctx.Done():
		cause = fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}

	s.mu.Lock()
	acked, proc := s.acked, s.proc
	s.mu.Unlock()
	slogger().Warn("supervisor: killing engine", "pid", proc.PID(), "acknowledged", acked)
	if err := proc.Kill(); err != nil {
		slogger().Warn("supervisor: kill failed", "pid", proc.PID(), "err", err)
	}
	<-s.exited
	return cause
}

// Kill terminates the process without a shutdown request.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func (s *Supervisor) transition(from, to State, t Transition) error {
	s.mu.Lock()
	if s.state != from || !canTransition(from, to) {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s in state %s", ErrState, from, to, cur)
	}
	s.state = to
	observers := append([]Observer(nil), s.observers...)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	t.From, t.To = from, to
	slogger().Debug("supervisor: transition", "from", from, "to", to, "pid", t.PID)
	for _, fn := range observers {
		fn(t)
	}
	return nil
}

// ShutdownAll shuts down every supervisor concurrently and returns the
// first error. One slow process does not shorten the others' timeout.
func ShutdownAll(ctx context.Context, sups []*Supervisor, request func(*Supervisor) error) error {
	var g errgroup.Group
	for _, s := range sups {
		g.Go(func() error {
			var req func() error
			if request != nil {
				req = func() error { return request(s) }
			}
			return s.Shutdown(ctx, req)
		})
	}
	return g.Wait()
}
