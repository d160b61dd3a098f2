package webtex

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/internal/journal"
	"github.com/gogpu/webtex/ipc"
	"github.com/gogpu/webtex/supervisor"
)

// features lists the optional protocol parts the host understands.
var features = []string{"popup", "ime", "audio", "damage"}

// engine is the host side of one engine process: its supervisor, the two
// transport streams and the handle arena of the instances it renders.
type engine struct {
	core  *Core
	sup   *supervisor.Supervisor
	arena *gpushare.Arena
	pid   int
	name  string

	control *ipc.Conn
	data    *ipc.Conn
	served  chan struct{}
	hello   chan ipc.HelloAckBody

	mu        sync.Mutex
	crashed   bool
	instances map[InstanceID]*instance
	pending   map[InstanceID]*pendingCreate
}

type pendingCreate struct {
	in    *instance
	reply chan ipc.CreatedBody
}

// startEngine launches an engine process and completes the handshake.
func startEngine(ctx context.Context, c *Core) (*engine, error) {
	e := &engine{
		core:      c,
		served:    make(chan struct{}),
		hello:     make(chan ipc.HelloAckBody, 1),
		instances: make(map[InstanceID]*instance),
		pending:   make(map[InstanceID]*pendingCreate),
	}
	e.arena = gpushare.NewArena(e.releaseHandle)
	e.sup = supervisor.New(c.opts.launcher, supervisor.Config{
		Path:            c.opts.enginePath,
		Args:            c.engineArgs(),
		Env:             c.opts.engineEnv,
		Dir:             c.DataDir(),
		ShutdownTimeout: c.opts.shutdownTimeout,
	})
	e.sup.Observe(e.observe)

	proc, err := e.sup.Start(ctx)
	if err != nil {
		return nil, err
	}
	e.pid = proc.PID()
	e.control = ipc.NewConn(proc.Control(), e.handle)
	if d := proc.Data(); d != nil {
		e.data = ipc.NewConn(d, e.handle)
	}
	go e.serve()

	if err := e.handshake(ctx); err != nil {
		_ = e.sup.Kill()
		e.closeTransport()
		return nil, err
	}
	c.record(journal.Entry{Kind: journal.EngineStarted, PID: e.pid, Detail: e.name})
	return e, nil
}

func (e *engine) serve() {
	defer close(e.served)
	var g errgroup.Group
	g.Go(func() error { return e.control.Run(context.Background()) })
	if e.data != nil {
		g.Go(func() error { return e.data.Run(context.Background()) })
	}
	if err := g.Wait(); err != nil {
		Logger().Warn("webtex: engine transport failed", "pid", e.pid, "err", err)
	}
}

func (e *engine) handshake(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, HandshakeTimeout)
		defer cancel()
	}

	kinds := e.core.registry.Kinds()
	handles := make([]string, len(kinds))
	for i, k := range kinds {
		handles[i] = k.String()
	}
	err := e.sendControl(ipc.TypeHello, InstanceID{}, ipc.HelloBody{
		Version:  ipc.Version,
		PID:      os.Getpid(),
		Handles:  handles,
		Features: features,
	})
	if err != nil {
		return fmt.Errorf("%w: hello: %w", supervisor.ErrSpawn, err)
	}

	select {
	case ack := <-e.hello:
		if ack.Version != ipc.Version {
			return fmt.Errorf("%w: %w: engine speaks protocol %d, want %d", supervisor.ErrSpawn, ipc.ErrProtocol, ack.Version, ipc.Version)
		}
		e.name = ack.Engine
		Logger().Info("webtex: engine ready", "pid", e.pid, "engine", ack.Engine)
		return nil
	case <-e.sup.Exited():
		return fmt.Errorf("%w: engine exited during handshake: %s", supervisor.ErrSpawn, e.sup.ExitStatus())
	case <-ctx.Done():
		return fmt.Errorf("%w: handshake: %w", supervisor.ErrSpawn, ctx.Err())
	}
}

// gone reports whether the engine can no longer host instances.
func (e *engine) gone() bool {
	e.mu.Lock()
	crashed := e.crashed
	e.mu.Unlock()
	return crashed || e.sup.State() != supervisor.StateRunning
}

// create asks the engine for a new instance and waits for the answer.
func (e *engine) create(ctx context.Context, in *instance, body ipc.CreateBody) (ipc.CreatedBody, error) {
	reply := make(chan ipc.CreatedBody, 1)
	e.mu.Lock()
	if e.crashed {
		e.mu.Unlock()
		return ipc.CreatedBody{}, fmt.Errorf("%w: engine %d exited", ipc.ErrChannelClosed, e.pid)
	}
	e.pending[in.id] = &pendingCreate{in: in, reply: reply}
	e.mu.Unlock()

	if err := e.sendControl(ipc.TypeCreate, in.id, body); err != nil {
		e.forget(in.id)
		return ipc.CreatedBody{}, err
	}

	select {
	case b := <-reply:
		if b.Error != "" {
			return b, fmt.Errorf("%w: %s", ErrCreateRejected, b.Error)
		}
		return b, nil
	case <-ctx.Done():
		e.forget(in.id)
		_ = e.sendControl(ipc.TypeDestroy, in.id, nil)
		return ipc.CreatedBody{}, ctx.Err()
	case <-e.sup.Exited():
		e.forget(in.id)
		return ipc.CreatedBody{}, fmt.Errorf("%w: engine %d exited while creating: %s",
			ipc.ErrChannelClosed, e.pid, e.sup.ExitStatus())
	}
}

// forget stops routing messages to an instance.
func (e *engine) forget(id InstanceID) {
	e.mu.Lock()
	delete(e.instances, id)
	delete(e.pending, id)
	e.mu.Unlock()
}

// lookup finds the instance a message is for, including instances whose
// creation is not yet acknowledged.
func (e *engine) lookup(id InstanceID) *instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	if in, ok := e.instances[id]; ok {
		return in
	}
	if p, ok := e.pending[id]; ok {
		return p.in
	}
	return nil
}

func (e *engine) sendControl(t ipc.Type, id InstanceID, body any) error {
	m := &ipc.Message{Type: t, Instance: id}
	if body != nil {
		var err error
		if m, err = ipc.NewControl(t, id, body); err != nil {
			return err
		}
	}
	return e.control.Send(m)
}

// releaseHandle returns a handle token to the engine's export pool.
func (e *engine) releaseHandle(h gpushare.CrossProcessHandle) {
	m, err := ipc.NewControl(ipc.TypeReleaseHandle, h.Instance, ipc.ReleaseBody{Token: h.Token})
	if err != nil {
		return
	}
	c := e.control
	if e.data != nil {
		c = e.data
	}
	if err := c.Send(m); err != nil {
		Logger().Debug("webtex: release not delivered", "handle", h.String(), "err", err)
	}
}

// handle runs on the transport reader goroutines.
func (e *engine) handle(m *ipc.Message) {
	switch m.Type {
	case ipc.TypeHelloAck:
		var b ipc.HelloAckBody
		if err := m.Decode(&b); err != nil {
			Logger().Warn("webtex: bad hello ack", "pid", e.pid, "err", err)
			return
		}
		select {
		case e.hello <- b:
		default:
		}
	case ipc.TypeShutdownAck:
		e.sup.Acknowledge()
	case ipc.TypeError:
		var b ipc.ErrorBody
		_ = m.Decode(&b)
		Logger().Warn("webtex: engine reported error",
			"pid", e.pid, "instance", m.Instance, "code", b.Code, "message", b.Message)
	case ipc.TypeCreated:
		var b ipc.CreatedBody
		if err := m.Decode(&b); err != nil {
			b.Error = err.Error()
		}
		e.mu.Lock()
		p, ok := e.pending[m.Instance]
		delete(e.pending, m.Instance)
		if ok && b.Error == "" {
			e.instances[m.Instance] = p.in
		}
		e.mu.Unlock()
		if ok {
			p.reply <- b
		}
	case ipc.TypeDestroyed:
		e.arena.Forget(m.Instance)
		Logger().Debug("webtex: engine destroyed instance", "instance", m.Instance)
	default:
		in := e.lookup(m.Instance)
		if in == nil {
			e.unrouted(m)
			return
		}
		in.handle(m)
	}
}

// unrouted disposes of a message for an instance the host no longer knows.
func (e *engine) unrouted(m *ipc.Message) {
	if m.Type == ipc.TypeAcceleratedFrame {
		var b ipc.HandleBody
		if m.Decode(&b) == nil {
			h := b.Handle(m.Instance)
			if len(m.FDs) > 0 && h.Kind == gpushare.HandleFD {
				h.Value = uintptr(m.FDs[0])
			}
			e.arena.Reject(h)
		}
	}
	Logger().Debug("webtex: message for unknown instance", "msg", m.String())
}

// observe follows the supervisor state machine.
func (e *engine) observe(t supervisor.Transition) {
	switch t.To {
	case supervisor.StateCrashed:
		e.crash(t)
	case supervisor.StateTerminated:
		if t.From == supervisor.StateExiting {
			code := t.Exit.Code
			e.core.record(journal.Entry{Kind: journal.EngineExited, PID: t.PID, Detail: t.Exit.String(), ExitCode: &code})
		}
	}
}

// crash moves every instance of the engine to StateCrashed.
func (e *engine) crash(t supervisor.Transition) {
	e.mu.Lock()
	if e.crashed {
		e.mu.Unlock()
		return
	}
	e.crashed = true
	victims := make([]*instance, 0, len(e.instances))
	for _, in := range e.instances {
		victims = append(victims, in)
	}
	e.mu.Unlock()

	cause := fmt.Errorf("%w: engine %d exited: %s", ipc.ErrChannelClosed, t.PID, t.Exit)
	Logger().Error("webtex: engine crashed", "pid", t.PID, "status", t.Exit.String(), "instances", len(victims))
	for _, in := range victims {
		in.engineGone(cause)
	}
	code := t.Exit.Code
	e.core.record(journal.Entry{Kind: journal.EngineCrashed, PID: t.PID, Detail: t.Exit.String(), ExitCode: &code})
}

// shutdown asks the engine to exit and waits for it.
func (e *engine) shutdown(ctx context.Context) error {
	err := e.sup.Shutdown(ctx, func() error {
		return e.sendControl(ipc.TypeShutdown, InstanceID{}, nil)
	})
	e.closeTransport()
	return err
}

func (e *engine) closeTransport() {
	e.control.Close()
	if e.data != nil {
		e.data.Close()
	}
}
