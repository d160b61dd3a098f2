// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/webtex/ipc"
)

const helperEnv = "WEBTEX_SUPERVISOR_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

// runHelper is the engine side when the test binary re-executes itself.
func runHelper(mode string) int {
	switch mode {
	case "crash":
		return 3
	case "hang":
		time.Sleep(time.Hour)
		return 0
	case "graceful":
		control, _, err := EngineStreams()
		if err != nil {
			return 2
		}
		done := make(chan struct{})
		var once sync.Once
		conn := ipc.NewConn(control, func(m *ipc.Message) {
			if m.Type != ipc.TypeShutdown {
				return
			}
			once.Do(func() {
				_ = ipc.WriteMessage(control, &ipc.Message{Type: ipc.TypeShutdownAck})
				close(done)
			})
		})
		go func() { _ = conn.Run(context.Background()) }()
		select {
		case <-done:
			return 0
		case <-time.After(30 * time.Second):
			return 4
		}
	default:
		return 1
	}
}

func helperConfig(t *testing.T, mode string) Config {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	return Config{Path: exe, Env: []string{helperEnv + "=" + mode}}
}

type recorder struct {
	mu sync.Mutex
	ts []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	r.ts = append(r.ts, t)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.ts))
	for i, t := range r.ts {
		out[i] = t.To
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitExited(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestSpawnError(t *testing.T) {
	var rec recorder
	s := New(nil, Config{Path: "/nonexistent/webtex-engine"})
	s.Observe(rec.observe)

	_, err := s.Start(context.Background())
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("Start err = %v, want ErrSpawn", err)
	}
	if s.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", s.State())
	}
	if got, want := rec.states(), []State{StateLaunching, StateTerminated}; !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrState) {
		t.Errorf("second Start err = %v, want ErrState", err)
	}
}

func TestSpawnErrorFromLauncher(t *testing.T) {
	denied := errors.New("sandbox refused the engine")
	s := New(LauncherFunc(func(context.Context, Config) (Process, error) {
		return nil, denied
	}), Config{Path: "engine"})

	_, err := s.Start(context.Background())
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("Start err = %v, want ErrSpawn", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("Start err = %v, want the launcher's error kept", err)
	}
	if s.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", s.State())
	}
}

func TestCrashDetected(t *testing.T) {
	var rec recorder
	s := New(nil, helperConfig(t, "crash"))
	s.Observe(rec.observe)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitExited(t, s)

	want := []State{StateLaunching, StateRunning, StateCrashed, StateTerminated}
	if got := rec.states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if code := s.ExitStatus().Code; code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestGracefulShutdown(t *testing.T) {
	var rec recorder
	s := New(nil, helperConfig(t, "graceful"))
	s.Observe(rec.observe)

	proc, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	conn := ipc.NewConn(proc.Control(), func(m *ipc.Message) {
		if m.Type == ipc.TypeShutdownAck {
			s.Acknowledge()
		}
	})
	go func() { _ = conn.Run(context.Background()) }()
	defer conn.Close()

	err = s.Shutdown(context.Background(), func() error {
		return conn.Send(&ipc.Message{Type: ipc.TypeShutdown})
	})
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []State{StateLaunching, StateRunning, StateExiting, StateTerminated}
	if got := rec.states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if !s.ExitStatus().Clean() {
		t.Errorf("exit = %s, want clean", s.ExitStatus())
	}
}

func TestShutdownTimeoutKills(t *testing.T) {
	cfg := helperConfig(t, "hang")
	cfg.ShutdownTimeout = 200 * time.Millisecond
	s := New(nil, cfg)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := s.Shutdown(context.Background(), nil)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Shutdown err = %v, want ErrShutdownTimeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Shutdown exceeded its bound")
	}
	if s.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", s.State())
	}
}

// fakeProcess exits when told to.
type fakeProcess struct {
	pid  int
	exit chan ExitStatus
	once sync.Once
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, exit: make(chan ExitStatus, 1)}
}

func (p *fakeProcess) PID() int                    { return p.pid }
func (p *fakeProcess) Control() io.ReadWriteCloser { return nil }
func (p *fakeProcess) Data() io.ReadWriteCloser    { return nil }
func (p *fakeProcess) Wait() (ExitStatus, error)   { return <-p.exit, nil }

func (p *fakeProcess) Kill() error {
	p.stop(ExitStatus{Code: -1, Desc: "signal: killed"})
	return nil
}

func (p *fakeProcess) stop(st ExitStatus) {
	p.once.Do(func() { p.exit <- st })
}

func fakeLauncher(p *fakeProcess) Launcher {
	return LauncherFunc(func(context.Context, Config) (Process, error) { return p, nil })
}

func TestShutdownAfterAck(t *testing.T) {
	p := newFakeProcess(10)
	s := New(fakeLauncher(p), Config{ShutdownTimeout: time.Second})
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := s.Shutdown(context.Background(), func() error {
		s.Acknowledge()
		s.Acknowledge()
		p.stop(ExitStatus{})
		return nil
	})
	if err != nil {
		t.Errorf("Shutdown = %v", err)
	}
}

func TestShutdownNotStarted(t *testing.T) {
	s := New(fakeLauncher(newFakeProcess(1)), Config{})
	if err := s.Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown before Start = %v", err)
	}
}

func TestShutdownAfterCrash(t *testing.T) {
	p := newFakeProcess(2)
	s := New(fakeLauncher(p), Config{})
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.stop(ExitStatus{Code: 139, Desc: "signal: segmentation fault"})
	waitExited(t, s)
	if err := s.Shutdown(context.Background(), func() error {
		t.Error("request must not be sent to a dead process")
		return nil
	}); err != nil {
		t.Errorf("Shutdown = %v", err)
	}
}

func TestShutdownAll(t *testing.T) {
	var sups []*Supervisor
	var procs []*fakeProcess
	for i := 0; i < 3; i++ {
		p := newFakeProcess(100 + i)
		s := New(fakeLauncher(p), Config{ShutdownTimeout: 100 * time.Millisecond})
		if _, err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		sups = append(sups, s)
		procs = append(procs, p)
	}

	err := ShutdownAll(context.Background(), sups, func(s *Supervisor) error {
		// The middle process ignores the request.
		if s != sups[1] {
			procs[indexOf(sups, s)].stop(ExitStatus{})
		}
		return nil
	})
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("ShutdownAll = %v, want ErrShutdownTimeout", err)
	}
	for i, s := range sups {
		if s.State() != StateTerminated {
			t.Errorf("supervisor %d state = %s", i, s.State())
		}
	}
	if !sups[0].ExitStatus().Clean() || sups[1].ExitStatus().Clean() {
		t.Error("only the hung process should have been killed")
	}
}

func indexOf(sups []*Supervisor, s *Supervisor) int {
	for i, v := range sups {
		if v == s {
			return i
		}
	}
	return -1
}
