// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gogpu/webtex/supervisor"
)

var nextPID atomic.Int32

func init() { nextPID.Store(40000) }

// Launcher starts an in-process Engine for every launch, connected through
// in-memory pipes. It implements supervisor.Launcher.
type Launcher struct {
	cfg Config

	mu      sync.Mutex
	fail    error
	engines []*Engine
	configs []supervisor.Config
}

// NewLauncher creates a launcher whose engines use cfg.
func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// FailWith makes later launches fail with err wrapped in supervisor.ErrSpawn.
// A nil err restores normal launches.
func (l *Launcher) FailWith(err error) {
	l.mu.Lock()
	l.fail = err
	l.mu.Unlock()
}

// Launch starts a new engine.
func (l *Launcher) Launch(ctx context.Context, cfg supervisor.Config) (supervisor.Process, error) {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail != nil {
		return nil, fmt.Errorf("%w: %w", supervisor.ErrSpawn, fail)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", supervisor.ErrSpawn, err)
	}

	e := New(l.cfg)
	hostControl, engineControl := net.Pipe()
	hostData, engineData := net.Pipe()
	p := &process{
		pid:     int(nextPID.Add(1)),
		control: hostControl,
		data:    hostData,
		engine:  e,
		exit:    make(chan supervisor.ExitStatus, 1),
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		err := e.Serve(serveCtx, engineControl, engineData)
		p.exit <- exitStatus(serveCtx, err)
	}()

	l.mu.Lock()
	l.engines = append(l.engines, e)
	l.configs = append(l.configs, cfg)
	l.mu.Unlock()
	return p, nil
}

func exitStatus(ctx context.Context, err error) supervisor.ExitStatus {
	switch {
	case errors.Is(err, ErrCrashed):
		return supervisor.ExitStatus{Code: 139, Desc: "signal: segmentation fault"}
	case ctx.Err() != nil:
		return supervisor.ExitStatus{Code: -1, Desc: "signal: killed"}
	case err != nil:
		return supervisor.ExitStatus{Code: 1, Desc: err.Error()}
	default:
		return supervisor.ExitStatus{}
	}
}

// Engines returns every engine launched so far, oldest first.
func (l *Launcher) Engines() []*Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Engine(nil), l.engines...)
}

// Last returns the most recently launched engine, or nil.
func (l *Launcher) Last() *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.engines) == 0 {
		return nil
	}
	return l.engines[len(l.engines)-1]
}

// Configs returns the supervisor configurations of every launch.
func (l *Launcher) Configs() []supervisor.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]supervisor.Config(nil), l.configs...)
}

// process is a supervisor.Process backed by an in-process Engine.
type process struct {
	pid     int
	control io.ReadWriteCloser
	data    io.ReadWriteCloser
	engine  *Engine
	cancel  context.CancelFunc
	exit    chan supervisor.ExitStatus
}

func (p *process) PID() int                    { return p.pid }
func (p *process) Control() io.ReadWriteCloser { return p.control }
func (p *process) Data() io.ReadWriteCloser    { return p.data }

func (p *process) Wait() (supervisor.ExitStatus, error) {
	st := <-p.exit
	p.control.Close()
	p.data.Close()
	return st, nil
}

func (p *process) Kill() error {
	p.cancel()
	return nil
}
