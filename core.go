package webtex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/webtex/bridge"
	"github.com/gogpu/webtex/gpuid"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ime"
	"github.com/gogpu/webtex/internal/journal"
	"github.com/gogpu/webtex/internal/profile"
	"github.com/gogpu/webtex/ipc"
	"github.com/gogpu/webtex/supervisor"
)

// HandshakeTimeout bounds the wait for the engine's hello when the caller's
// context has no deadline.
const HandshakeTimeout = 10 * time.Second

// journalQueue is the number of journal entries buffered before new ones
// are dropped.
const journalQueue = 64

// Core embeds browser engine instances into a host renderer.
//
// CreateInstance, DestroyInstance and Close may block on the engine process.
// Every other method returns without waiting for it; PollFrame, TryRecv and
// Pump are meant to be called once per host frame.
type Core struct {
	opts     options
	registry *gpushare.Registry
	exchange *gpushare.Exchange
	matcher  *gpuid.Matcher
	security []string
	dir      *profile.Dir

	journal *journal.Journal
	jmu     sync.RWMutex
	jq      chan journal.Entry
	jdone   chan struct{}

	startMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	shared    *engine
	engines   []*engine
	instances map[InstanceID]*instance
	order     []*instance
}

// New creates a Core. No engine process starts until the first
// CreateInstance.
func New(opts ...Option) (*Core, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{
		opts:      o,
		instances: make(map[InstanceID]*instance),
	}

	c.registry = o.registry
	if c.registry == nil {
		if len(o.importers) > 0 {
			c.registry = gpushare.NewRegistry()
		} else {
			c.registry = gpushare.DefaultRegistry()
		}
	}
	for _, e := range o.importers {
		imp := e.importer
		c.registry.Register(e.name, e.kind, e.priority, func() (gpushare.Importer, error) { return imp, nil }, nil)
	}

	if o.identity != nil {
		c.matcher = gpuid.NewMatcher(o.identity)
	}
	var adapter []byte
	if id, ok := c.identify(); ok {
		adapter = id.Key()
	}
	c.exchange = gpushare.NewExchange(c.registry, adapter)
	c.security = o.security.args(Logger())

	if o.dataDir != "" {
		dir, err := profile.Open(o.dataDir)
		if err != nil {
			return nil, err
		}
		c.dir = dir
		if o.journal {
			c.openJournal()
		}
	}

	if o.negotiator != nil {
		if r, ran := o.negotiator.Result(); ran {
			detail := "accelerated"
			if !r.Accelerated {
				detail = r.Reason
			}
			c.record(journal.Entry{Kind: journal.Capabilities, Detail: detail})
		}
	}
	return c, nil
}

func (c *Core) openJournal() {
	j, err := journal.Open(context.Background(), c.dir.Join(journal.FileName))
	if err != nil {
		Logger().Warn("webtex: journal disabled", "dir", c.dir.Path(), "err", err)
		return
	}
	c.journal = j
	c.jq = make(chan journal.Entry, journalQueue)
	c.jdone = make(chan struct{})
	go func() {
		defer close(c.jdone)
		for e := range c.jq {
			if err := j.Record(context.Background(), e); err != nil {
				Logger().Warn("webtex: journal write failed", "kind", e.Kind, "err", err)
			}
		}
	}()
}

// record queues e for the journal without blocking.
func (c *Core) record(e journal.Entry) {
	c.jmu.RLock()
	defer c.jmu.RUnlock()
	if c.jq == nil {
		return
	}
	e.Time = time.Now()
	select {
	case c.jq <- e:
	default:
		Logger().Debug("webtex: journal queue full, dropping entry", "kind", e.Kind)
	}
}

func (c *Core) closeJournal() error {
	c.jmu.Lock()
	q := c.jq
	c.jq = nil
	c.jmu.Unlock()
	if q == nil {
		return nil
	}
	close(q)
	<-c.jdone
	return c.journal.Close()
}

func (c *Core) identify() (gpuid.Identity, bool) {
	if c.matcher == nil {
		return gpuid.Identity{}, false
	}
	return c.matcher.Identify()
}

// DeviceLost re-reads the host adapter identity after the host recreated its
// graphics device. Engines already running keep their adapter; their shared
// textures fail the adapter check and the instances fall back to software
// frames.
func (c *Core) DeviceLost() {
	if c.matcher == nil {
		return
	}
	c.matcher.Invalidate()
	id, ok := c.matcher.Identify()
	var key []byte
	if ok {
		key = id.Key()
	}
	c.exchange.SetAdapter(key)
	Logger().Info("webtex: host device lost, adapter re-read", "pinned", ok, "adapter", id.String())
}

// DataDir returns the locked data directory, or "" without one.
func (c *Core) DataDir() string {
	if c.dir == nil {
		return ""
	}
	return c.dir.Path()
}

// CreateInstance starts the engine if needed and creates a browser instance.
// It blocks until the engine answers, ctx is done, or the engine exits.
//
// Errors wrap ErrInvalidSize, ErrSpawn, ErrCreateRejected, ErrChannelClosed
// (the engine exited while creating) or ctx's error.
func (c *Core) CreateInstance(ctx context.Context, cfg InstanceConfig) (InstanceID, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return InstanceID{}, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return InstanceID{}, ErrClosed
	}

	eng, err := c.engineFor(ctx)
	if err != nil {
		return InstanceID{}, err
	}

	path := PathSoftware
	if c.accelerated(cfg) {
		path = PathAccelerated
	}
	in, err := newInstance(c, eng, cfg, path)
	if err != nil {
		return InstanceID{}, err
	}

	physical := cfg.physical(cfg.Size)
	created, err := eng.create(ctx, in, ipc.CreateBody{
		URL:         cfg.URL,
		Width:       physical.Width,
		Height:      physical.Height,
		Scale:       cfg.ScaleFactor,
		FrameRate:   cfg.FrameRate,
		Transparent: cfg.Transparent,
		Accelerated: path == PathAccelerated,
		Audio:       cfg.EnableAudio,
	})
	if err != nil {
		in.discard()
		if c.opts.perInstance {
			go c.retire(eng)
		}
		return InstanceID{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		eng.forget(in.id)
		in.discard()
		_ = eng.sendControl(ipc.TypeDestroy, in.id, nil)
		return InstanceID{}, ErrClosed
	}
	c.instances[in.id] = in
	c.order = append(c.order, in)
	c.mu.Unlock()

	in.setState(StateRunning, nil)
	if path == PathAccelerated && !created.Accelerated {
		in.bridge.Fallback(fmt.Errorf("%w: engine has no accelerated path", ErrCapabilityUnavailable))
	}
	c.record(journal.Entry{Kind: journal.InstanceCreated, PID: eng.pid, Instance: in.id.String(), Detail: cfg.URL})
	Logger().Info("webtex: instance created",
		"instance", in.id, "pid", eng.pid, "size", physical, "path", in.bridge.Path())
	return in.id, nil
}

// accelerated decides the initial path of a new instance.
func (c *Core) accelerated(cfg InstanceConfig) bool {
	if !cfg.PreferAccelerated {
		return false
	}
	n := c.opts.negotiator
	if n == nil {
		Logger().Debug("webtex: no capability negotiator, using software frames")
		return false
	}
	if !n.MarkAcceleratedStart() {
		r, _ := n.Result()
		Logger().Debug("webtex: accelerated path unavailable", "err", r.Err())
		return false
	}
	if len(c.registry.Kinds()) == 0 {
		Logger().Warn("webtex: no texture importer registered, using software frames")
		return false
	}
	return true
}

// engineFor returns the engine a new instance runs in, starting one when
// needed.
func (c *Core) engineFor(ctx context.Context) (*engine, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.opts.perInstance {
		c.mu.Lock()
		e := c.shared
		c.mu.Unlock()
		if e != nil && !e.gone() {
			return e, nil
		}
	}

	e, err := startEngine(ctx, c)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.engines = append(c.engines, e)
	if !c.opts.perInstance {
		c.shared = e
	}
	c.mu.Unlock()
	return e, nil
}

// engineArgs returns the command line of a new engine.
func (c *Core) engineArgs() []string {
	var args []string
	if id, ok := c.identify(); ok {
		args = append(args, id.LaunchArgs()...)
	}
	if c.dir != nil {
		args = append(args, FlagUserDataDir+"="+c.dir.Path())
	}
	args = append(args, c.security...)
	return append(args, c.opts.engineArgs...)
}

// retire shuts down an engine that no longer hosts instances.
func (c *Core) retire(e *engine) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.shutdownTimeout+time.Second)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		Logger().Warn("webtex: engine shutdown", "pid", e.pid, "err", err)
	}
	c.mu.Lock()
	for i, x := range c.engines {
		if x == e {
			c.engines = append(c.engines[:i], c.engines[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

func (c *Core) lookup(id InstanceID) (*instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return in, nil
}

// DestroyInstance tears down an instance. Every shared texture and queued
// frame of the instance is released and its pending messages and events are
// dropped before it returns; it does not wait for the engine.
func (c *Core) DestroyInstance(id InstanceID) error {
	c.mu.Lock()
	in, ok := c.instances[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	delete(c.instances, id)
	for i, x := range c.order {
		if x == in {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	in.destroy()
	c.record(journal.Entry{Kind: journal.InstanceDestroyed, PID: in.eng.pid, Instance: id.String()})
	if c.opts.perInstance {
		go c.retire(in.eng)
	}
	return nil
}

// RequestResize changes the logical view size of an instance. PollFrame
// keeps returning the last frame, or a letterboxed copy, until the engine
// delivers a frame of the new size.
func (c *Core) RequestResize(id InstanceID, size Size) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	return in.resize(size, 0)
}

// SetScaleFactor changes the device scale factor of an instance.
func (c *Core) SetScaleFactor(id InstanceID, scale float64) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	if scale <= 0 {
		return fmt.Errorf("%w: scale %v", ErrInvalidSize, scale)
	}
	return in.resize(Size{}, scale)
}

// SendMessage sends an envelope to the page. Envelopes arrive in send order.
// After the engine exited it fails with an error wrapping ErrChannelClosed.
func (c *Core) SendMessage(id InstanceID, e Envelope) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	return in.ch.Send(e)
}

// TryRecv returns the oldest unread envelope from the page without
// blocking. Envelopes read here are not passed to a Listener.
func (c *Core) TryRecv(id InstanceID) (Envelope, bool) {
	in, err := c.lookup(id)
	if err != nil {
		return Envelope{}, false
	}
	return in.ch.TryRecv()
}

// SetIme forwards the host input method state to the engine. Composition
// text is dropped while no editable element has focus.
func (c *Core) SetIme(id InstanceID, st ImeState) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	in.setIme(st)
	return nil
}

// Ime returns the input method state of an instance: Active while an
// editable element has focus, and its last caret rectangle. Both reflect
// the engine reports applied by the last PollFrame or Pump.
func (c *Core) Ime(id InstanceID) (ImeState, error) {
	in, err := c.lookup(id)
	if err != nil {
		return ImeState{}, err
	}
	return ImeState{
		Active:    in.ime.State() == ime.Composing,
		CaretRect: in.ime.Caret(),
	}, nil
}

// Input returns the forwarder translating host input for an instance. Attach
// it to a gpucontext.EventSource or call its methods directly.
func (c *Core) Input(id InstanceID) (*ime.Forwarder, error) {
	in, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return in.ime, nil
}

// PollFrame returns the frame to draw if it changed since the previous call.
// It never blocks. Pixels and Shared stay valid until the next PollFrame or
// Pump for the instance. It also applies the focus and caret changes the
// engine reported since the previous call.
func (c *Core) PollFrame(id InstanceID) (Frame, bool) {
	in, err := c.lookup(id)
	if err != nil {
		return Frame{}, false
	}
	in.ime.Pump()
	v, ok := in.bridge.PollFrame()
	if !ok {
		return Frame{}, false
	}
	return frameFromView(v), true
}

// SetFrameRate caps how often the engine paints the instance.
func (c *Core) SetFrameRate(id InstanceID, fps int) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	if fps <= 0 {
		return fmt.Errorf("webtex: invalid frame rate %d", fps)
	}
	return in.eng.sendControl(ipc.TypeFrameRate, id, ipc.FrameRateBody{FPS: fps})
}

// SetAudioMuted mutes or unmutes an instance.
func (c *Core) SetAudioMuted(id InstanceID, muted bool) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.audio.Muted = muted
	in.mu.Unlock()
	return in.eng.sendControl(ipc.TypeMute, id, ipc.MuteBody{Muted: muted})
}

// State returns the current state of an instance.
func (c *Core) State(id InstanceID) (InstanceState, error) {
	in, err := c.lookup(id)
	if err != nil {
		return 0, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state, nil
}

// Path returns the frame delivery path of an instance.
func (c *Core) Path(id InstanceID) (RenderPath, error) {
	in, err := c.lookup(id)
	if err != nil {
		return 0, err
	}
	return in.bridge.Path(), nil
}

// Stats returns the frame pump counters of an instance.
func (c *Core) Stats(id InstanceID) (bridge.Stats, error) {
	in, err := c.lookup(id)
	if err != nil {
		return bridge.Stats{}, err
	}
	return in.bridge.Stats(), nil
}

// Instances returns the live instances in creation order.
func (c *Core) Instances() []InstanceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]InstanceID, len(c.order))
	for i, in := range c.order {
		ids[i] = in.id
	}
	return ids
}

// Draw draws the texture last published by Pump for an instance at (x, y).
func (c *Core) Draw(id InstanceID, dc gpucontext.TextureDrawer, x, y float32) error {
	in, err := c.lookup(id)
	if err != nil {
		return err
	}
	return in.pub.Draw(dc, x, y)
}

// Pump delivers everything that happened since the previous call to l, on
// the calling goroutine: page messages, new frames, caret moves, state
// transitions and page notifications. It never blocks on the engine and
// returns the number of callbacks made.
//
// Between calls each instance keeps only the latest caret, cursor, title,
// address, audio and drag feedback, and the latest progress of each
// download. Loading changes, console messages and download requests are
// capped per instance, dropping the oldest. Events of a destroyed instance
// are dropped.
//
// Pump consumes frames and messages; do not mix it with PollFrame or TryRecv
// for the same instance.
func (c *Core) Pump(l Listener) int {
	c.mu.Lock()
	live := append([]*instance(nil), c.order...)
	c.mu.Unlock()

	n := 0
	for _, in := range live {
		in.ime.Pump()
		for {
			e, ok := in.ch.TryRecv()
			if !ok {
				break
			}
			l.OnMessage(in.id, e)
			n++
		}
		if v, ok := in.bridge.PollFrame(); ok {
			var tex gpucontext.Texture
			if c.opts.creator != nil || v.Texture != nil || v.Unavailable {
				t, err := in.pub.Publish(c.opts.creator, v)
				if err != nil {
					Logger().Warn("webtex: publishing frame failed", "instance", in.id, "seq", v.Seq, "err", err)
				}
				tex = t
			}
			l.OnFrameReady(in.id, frameFromView(v), tex)
			n++
		}

		// A fallback raised by the poll above is delivered in this pass.
		for _, e := range in.events.drain() {
			e.dispatch(l)
			n++
		}
	}
	return n
}

// Close destroys every instance, asks each engine to exit and waits for it,
// bounded by the shutdown timeout and ctx. Engines that do not exit in time
// are killed. Close releases the data directory.
func (c *Core) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	live := c.order
	c.order = nil
	c.instances = make(map[InstanceID]*instance)
	engines := append([]*engine(nil), c.engines...)
	c.engines = nil
	c.shared = nil
	c.mu.Unlock()

	for _, in := range live {
		in.destroy()
	}

	sups := make([]*supervisor.Supervisor, len(engines))
	byS := make(map[*supervisor.Supervisor]*engine, len(engines))
	for i, e := range engines {
		sups[i] = e.sup
		byS[e.sup] = e
	}
	err := supervisor.ShutdownAll(ctx, sups, func(s *supervisor.Supervisor) error {
		return byS[s].sendControl(ipc.TypeShutdown, InstanceID{}, nil)
	})
	for _, e := range engines {
		e.closeTransport()
	}

	err = errors.Join(err, c.closeJournal())
	if c.dir != nil {
		err = errors.Join(err, c.dir.Release())
	}
	return err
}
