// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ipc"
)

// DefaultName is the engine name reported in the handshake.
const DefaultName = "enginetest"

var (
	// ErrCrashed is returned by Serve after Crash.
	ErrCrashed = errors.New("enginetest: crashed")

	// ErrUnknownView is returned for operations on an instance the engine
	// does not host.
	ErrUnknownView = errors.New("enginetest: unknown instance")

	// ErrNotServing is returned before Serve connected the streams.
	ErrNotServing = errors.New("enginetest: not serving")
)

// Config configures an Engine.
type Config struct {
	// Name is reported in the handshake. Defaults to DefaultName.
	Name string

	// AutoPaint renders a frame after create, resize and path changes.
	// Without it frames are only produced by Paint.
	AutoPaint bool

	// Accelerated lets instances use the accelerated path when the host
	// asks for it.
	Accelerated bool

	// Adapter is the identity stamped on exported handles.
	Adapter []byte

	// HandleKind is the kind of exported handles. Defaults to
	// gpushare.HandleIOSurface, which owns no host-side OS resource.
	HandleKind gpushare.HandleKind

	// PoolLimit bounds unreleased handles per instance.
	PoolLimit int

	// Echo sends every received channel message back to the host.
	Echo bool
}

// ViewState is a snapshot of one hosted instance.
type ViewState struct {
	ID          uuid.UUID
	URL         string
	Size        frame.Size
	Scale       float64
	FrameRate   int
	Accelerated bool
	Muted       bool
	Focused     bool
	Frames      int

	// PathReason is the reason of the last path change from the host.
	PathReason string

	// Input holds the input and IME messages received, oldest first.
	Input []*ipc.Message
}

type view struct {
	ViewState
	seq      uint64
	textures uint64
	base     uint64
	ch       *ipc.Channel
	received []ipc.Envelope
	history  int
}

// Engine is a fake browser engine process.
type Engine struct {
	cfg      Config
	exporter *gpushare.Exporter
	fence    atomic.Uint64

	mu      sync.Mutex
	control *ipc.Conn
	data    *ipc.Conn
	hello   *ipc.HelloBody
	views   map[uuid.UUID]*view
	nviews  uint64
	crashed bool

	ready    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an engine. Call Serve to connect it.
func New(cfg Config) *Engine {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.HandleKind == gpushare.HandleNone {
		cfg.HandleKind = gpushare.HandleIOSurface
	}
	e := &Engine{
		cfg:   cfg,
		views: make(map[uuid.UUID]*view),
		ready: make(chan struct{}),
		stop:  make(chan struct{}),
	}
	e.exporter = gpushare.NewExporter(cfg.Adapter, cfg.PoolLimit, e.export)
	return e
}

// Serve runs the engine on the control and data streams until the host
// shuts it down, the streams close, ctx is canceled, or Crash is called.
// data may be nil, in which case accelerated frames use the control stream.
func (e *Engine) Serve(ctx context.Context, control, data io.ReadWriteCloser) error {
	e.mu.Lock()
	if e.control != nil {
		e.mu.Unlock()
		return errors.New("enginetest: already serving")
	}
	e.control = ipc.NewConn(control, e.handle)
	if data != nil {
		e.data = ipc.NewConn(data, e.handle)
	}
	ctl, dat := e.control, e.data
	e.mu.Unlock()
	close(e.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer e.halt()
		return ctl.Run(gctx)
	})
	if dat != nil {
		g.Go(func() error {
			defer e.halt()
			return dat.Run(gctx)
		})
	}
	g.Go(func() error {
		select {
		case <-e.stop:
		case <-gctx.Done():
		}
		ctl.Close()
		if dat != nil {
			dat.Close()
		}
		return nil
	})
	err := g.Wait()

	e.mu.Lock()
	crashed := e.crashed
	for _, v := range e.views {
		v.ch.Close(ipc.ErrChannelClosed)
	}
	e.mu.Unlock()
	if crashed {
		return ErrCrashed
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Ready is closed once Serve connected the streams.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Done is closed once the engine stops serving.
func (e *Engine) Done() <-chan struct{} { return e.stop }

// Crash drops both streams without a goodbye.
func (e *Engine) Crash() {
	e.mu.Lock()
	e.crashed = true
	e.mu.Unlock()
	slogger().Debug("enginetest: crashing")
	e.halt()
}

func (e *Engine) halt() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Hello returns the host's handshake, if it arrived.
func (e *Engine) Hello() (ipc.HelloBody, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hello == nil {
		return ipc.HelloBody{}, false
	}
	return *e.hello, true
}

// Views returns the ids of the hosted instances.
func (e *Engine) Views() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(e.views))
	for id := range e.views {
		ids = append(ids, id)
	}
	return ids
}

// View returns a snapshot of instance id.
func (e *Engine) View(id uuid.UUID) (ViewState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return ViewState{}, false
	}
	s := v.ViewState
	s.Input = append([]*ipc.Message(nil), v.Input...)
	return s, true
}

// Outstanding returns the number of exported handles of id the host has
// not released yet.
func (e *Engine) Outstanding(id uuid.UUID) int {
	return e.exporter.Outstanding(id)
}

// Received drains the message channel of id and returns everything the
// host sent so far, oldest first.
func (e *Engine) Received(id uuid.UUID) []ipc.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return nil
	}
	e.drainLocked(v)
	return append([]ipc.Envelope(nil), v.received...)
}

func (e *Engine) drainLocked(v *view) {
	for {
		env, ok := v.ch.TryRecv()
		if !ok {
			return
		}
		v.received = append(v.received, env)
	}
}

// Paint renders the next frame of id on its current path.
func (e *Engine) Paint(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, id)
	}
	return e.paintLocked(v)
}

// SendText sends a text envelope to the host on id's channel.
func (e *Engine) SendText(id uuid.UUID, s string) error {
	return e.sendEnvelope(id, ipc.Text(s))
}

// SendBinary sends a binary envelope to the host on id's channel.
func (e *Engine) SendBinary(id uuid.UUID, b []byte) error {
	return e.sendEnvelope(id, ipc.Binary(b))
}

func (e *Engine) sendEnvelope(id uuid.UUID, env ipc.Envelope) error {
	e.mu.Lock()
	v, ok := e.views[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, id)
	}
	return v.ch.Send(env)
}

// FocusEditable reports that an editable element inside id gained or lost
// focus.
func (e *Engine) FocusEditable(id uuid.UUID, focused bool) error {
	return e.notify(ipc.TypeFocus, id, ipc.FocusBody{Focused: focused, Editable: focused})
}

// Caret reports the caret rectangle of id in view pixels.
func (e *Engine) Caret(id uuid.UUID, r frame.Rect) error {
	return e.notify(ipc.TypeCaret, id, ipc.RectBody{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
}

// ShowPopup shows a popup widget filled with one BGRA pixel value.
func (e *Engine) ShowPopup(id uuid.UUID, r frame.Rect, bgra [4]byte) error {
	if err := e.notify(ipc.TypePopup, id, ipc.PopupBody{Show: true, X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}); err != nil {
		return err
	}
	px := make([]byte, r.Width*r.Height*4)
	for i := 0; i < len(px); i += 4 {
		copy(px[i:i+4], bgra[:])
	}
	body := ipc.EncodeSoftwareFrame(ipc.SoftwareHeader{
		Width:  r.Width,
		Height: r.Height,
		Stride: r.Width * 4,
		Format: gputypes.TextureFormatBGRA8Unorm,
	}, px)
	return e.send(&ipc.Message{Type: ipc.TypeSoftwareFrame, Flags: ipc.FlagPopup, Instance: id, Body: body}, false)
}

// HidePopup hides the popup widget of id.
func (e *Engine) HidePopup(id uuid.UUID) error {
	return e.notify(ipc.TypePopup, id, ipc.PopupBody{})
}

// Navigate simulates a page load of url in id.
func (e *Engine) Navigate(id uuid.UUID, url, title string) error {
	e.mu.Lock()
	v, ok := e.views[id]
	if ok {
		if v.URL != "" {
			v.history++
		}
		v.URL = url
	}
	var back bool
	if ok {
		back = v.history > 0
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, id)
	}

	steps := []struct {
		t    ipc.Type
		body any
	}{
		{ipc.TypeLoading, ipc.LoadingBody{Loading: true, CanGoBack: back}},
		{ipc.TypeAddress, ipc.AddressBody{URL: url}},
		{ipc.TypeTitle, ipc.TitleBody{Title: title}},
		{ipc.TypeLoading, ipc.LoadingBody{Loading: false, CanGoBack: back}},
	}
	for _, s := range steps {
		if err := e.notify(s.t, id, s.body); err != nil {
			return err
		}
	}
	return nil
}

// Console emits a console message from the page in id.
func (e *Engine) Console(id uuid.UUID, level int, msg string) error {
	return e.notify(ipc.TypeConsole, id, ipc.ConsoleBody{Level: level, Message: msg, Source: "enginetest"})
}

// Audio reports the audio stream state of id.
func (e *Engine) Audio(id uuid.UUID, b ipc.AudioBody) error {
	return e.notify(ipc.TypeAudio, id, b)
}

// SetCursor asks the host to show the named cursor over id.
func (e *Engine) SetCursor(id uuid.UUID, cursor string) error {
	return e.notify(ipc.TypeCursor, id, ipc.CursorBody{Cursor: cursor})
}

// StartDrag starts dragging data out of id at view position (x, y).
func (e *Engine) StartDrag(id uuid.UUID, data ipc.DragData, x, y int, ops ipc.DragOps) error {
	return e.notify(ipc.TypeDragStarted, id, ipc.DragStartedBody{Data: data, X: x, Y: y, Ops: ops})
}

// Download reports a download requested by the page in id.
func (e *Engine) Download(id uuid.UUID, b ipc.DownloadBody) error {
	return e.notify(ipc.TypeDownload, id, b)
}

// DownloadUpdate reports download progress in id.
func (e *Engine) DownloadUpdate(id uuid.UUID, b ipc.DownloadUpdateBody) error {
	return e.notify(ipc.TypeDownloadUpdate, id, b)
}

func (e *Engine) notify(t ipc.Type, id uuid.UUID, body any) error {
	m, err := ipc.NewControl(t, id, body)
	if err != nil {
		return err
	}
	return e.send(m, false)
}

// send queues m on the control stream, or on the data stream when dataPlane
// is set and one is connected.
func (e *Engine) send(m *ipc.Message, dataPlane bool) error {
	e.mu.Lock()
	c := e.control
	if dataPlane && e.data != nil {
		c = e.data
	}
	e.mu.Unlock()
	if c == nil {
		return ErrNotServing
	}
	return c.Send(m)
}

// handle runs on the reader goroutines.
func (e *Engine) handle(m *ipc.Message) {
	switch m.Type {
	case ipc.TypeHello:
		e.onHello(m)
	case ipc.TypeShutdown:
		e.onShutdown()
	case ipc.TypeCreate:
		e.onCreate(m)
	case ipc.TypeReleaseHandle:
		var b ipc.ReleaseBody
		if err := m.Decode(&b); err == nil && !e.exporter.Released(b.Token) {
			slogger().Debug("enginetest: release of unknown token", "token", b.Token)
		}
	default:
		e.onViewMessage(m)
	}
}

func (e *Engine) onHello(m *ipc.Message) {
	var b ipc.HelloBody
	if err := m.Decode(&b); err != nil {
		e.replyError(m.Instance, "bad-hello", err)
		return
	}
	e.mu.Lock()
	e.hello = &b
	e.mu.Unlock()

	ack, _ := ipc.NewControl(ipc.TypeHelloAck, uuid.Nil, ipc.HelloAckBody{
		Version: ipc.Version,
		PID:     os.Getpid(),
		Engine:  e.cfg.Name,
	})
	_ = e.send(ack, false)
}

func (e *Engine) onShutdown() {
	_ = e.send(&ipc.Message{Type: ipc.TypeShutdownAck}, false)
	go func() {
		e.mu.Lock()
		c := e.control
		e.mu.Unlock()
		flush(c, time.Second)
		e.halt()
	}()
}

// flush waits until c wrote everything queued so far.
func flush(c *ipc.Conn, timeout time.Duration) {
	st := c.Stats()
	want := st.Sent + uint64(st.Queued)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-c.Done():
			return
		default:
		}
		if c.Stats().Sent >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (e *Engine) onCreate(m *ipc.Message) {
	var b ipc.CreateBody
	if err := m.Decode(&b); err != nil {
		e.replyError(m.Instance, "bad-create", err)
		return
	}

	e.mu.Lock()
	if _, dup := e.views[m.Instance]; dup || b.Width <= 0 || b.Height <= 0 {
		e.mu.Unlock()
		reply, _ := ipc.NewControl(ipc.TypeCreated, m.Instance, ipc.CreatedBody{Error: "invalid instance parameters"})
		_ = e.send(reply, false)
		return
	}
	e.nviews++
	v := &view{
		ViewState: ViewState{
			ID:          m.Instance,
			URL:         b.URL,
			Size:        frame.Size{Width: b.Width, Height: b.Height},
			Scale:       b.Scale,
			FrameRate:   b.FrameRate,
			Accelerated: b.Accelerated && e.cfg.Accelerated,
		},
		base: e.nviews << 16,
		ch:   ipc.NewChannel(m.Instance, e.control.Send),
	}
	e.views[m.Instance] = v
	reply, _ := ipc.NewControl(ipc.TypeCreated, m.Instance, ipc.CreatedBody{Accelerated: v.Accelerated})
	_ = e.control.Send(reply)
	slogger().Debug("enginetest: created", "instance", m.Instance, "size", v.Size, "accelerated", v.Accelerated)
	if e.cfg.AutoPaint {
		_ = e.paintLocked(v)
	}
	e.mu.Unlock()
}

func (e *Engine) onViewMessage(m *ipc.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.views[m.Instance]
	if !ok {
		if m.Type != ipc.TypeDestroy {
			slogger().Debug("enginetest: message for unknown instance", "msg", m.String())
		}
		return
	}

	switch m.Type {
	case ipc.TypeDestroy:
		delete(e.views, m.Instance)
		v.ch.Drop()
		e.exporter.ReleaseInstance(m.Instance)
		_ = e.control.Send(&ipc.Message{Type: ipc.TypeDestroyed, Instance: m.Instance})
	case ipc.TypeResize:
		var b ipc.ResizeBody
		if m.Decode(&b) == nil {
			v.Size = frame.Size{Width: b.Width, Height: b.Height}
			v.Scale = b.Scale
			if e.cfg.AutoPaint {
				_ = e.paintLocked(v)
			}
		}
	case ipc.TypeFrameRate:
		var b ipc.FrameRateBody
		if m.Decode(&b) == nil {
			v.FrameRate = b.FPS
		}
	case ipc.TypeSetPath:
		var b ipc.PathBody
		if m.Decode(&b) == nil {
			v.Accelerated = b.Accelerated && e.cfg.Accelerated
			v.PathReason = b.Reason
			if !v.Accelerated {
				e.exporter.ReleaseInstance(m.Instance)
			}
			if e.cfg.AutoPaint {
				_ = e.paintLocked(v)
			}
		}
	case ipc.TypeMute:
		var b ipc.MuteBody
		if m.Decode(&b) == nil {
			v.Muted = b.Muted
		}
	case ipc.TypeText, ipc.TypeBinary:
		if err := v.ch.Deliver(m); err != nil {
			slogger().Warn("enginetest: channel closed", "instance", m.Instance, "err", err)
			return
		}
		if e.cfg.Echo {
			e.drainLocked(v)
			_ = v.ch.Send(v.received[len(v.received)-1])
		}
	case ipc.TypeFocus:
		var b ipc.FocusBody
		if m.Decode(&b) == nil {
			v.Focused = b.Focused
		}
	case ipc.TypeComposition, ipc.TypeCommit, ipc.TypeCancelIME,
		ipc.TypeKey, ipc.TypeMouse, ipc.TypeWheel,
		ipc.TypeDragLeave, ipc.TypeDragDrop, ipc.TypeDragSourceEnded:
		v.Input = append(v.Input, m)
	case ipc.TypeDragEnter, ipc.TypeDragOver:
		v.Input = append(v.Input, m)
		// The page accepts copies only.
		var b ipc.DragBody
		if m.Decode(&b) == nil {
			op := ipc.DragNone
			if b.Ops&ipc.DragCopy != 0 {
				op = ipc.DragCopy
			}
			if r, err := ipc.NewControl(ipc.TypeDragCursor, m.Instance, ipc.DragCursorBody{Op: op}); err == nil {
				_ = e.control.Send(r)
			}
		}
	default:
		slogger().Debug("enginetest: ignoring message", "msg", m.String())
	}
}

func (e *Engine) replyError(id uuid.UUID, code string, err error) {
	m, _ := ipc.NewControl(ipc.TypeError, id, ipc.ErrorBody{Code: code, Message: err.Error()})
	_ = e.send(m, false)
}

// Pixel returns the BGRA value of every pixel of software frame seq.
func Pixel(seq uint64) [4]byte {
	return [4]byte{byte(seq), 0x40, 0x80, 0xff}
}

// paintLocked must be called with e.mu held.
func (e *Engine) paintLocked(v *view) error {
	if v.Size.Empty() {
		return nil
	}
	v.seq++
	v.Frames++
	if v.Accelerated {
		err := e.paintAccelerated(v)
		if err == nil {
			return nil
		}
		slogger().Debug("enginetest: accelerated paint failed", "instance", v.ID, "err", err)
		return err
	}

	stride := v.Size.Width * 4
	px := make([]byte, stride*v.Size.Height)
	p := Pixel(v.seq)
	for i := 0; i < len(px); i += 4 {
		copy(px[i:i+4], p[:])
	}
	body := ipc.EncodeSoftwareFrame(ipc.SoftwareHeader{
		Width:  v.Size.Width,
		Height: v.Size.Height,
		Stride: stride,
		Format: gputypes.TextureFormatBGRA8Unorm,
	}, px)
	c := e.control
	if c == nil {
		return ErrNotServing
	}
	return c.Send(&ipc.Message{Type: ipc.TypeSoftwareFrame, Instance: v.ID, Seq: v.seq, Body: body})
}

func (e *Engine) paintAccelerated(v *view) error {
	limit := e.cfg.PoolLimit
	if limit <= 0 {
		limit = gpushare.DefaultPoolLimit
	}
	var (
		h   gpushare.CrossProcessHandle
		err error
	)
	for i := 0; i < limit; i++ {
		tex := localTexture{
			id:     v.base + (v.textures+uint64(i))%uint64(limit),
			width:  uint32(v.Size.Width),
			height: uint32(v.Size.Height),
		}
		h, err = e.exporter.Export(v.ID, tex)
		if !errors.Is(err, gpushare.ErrResourceBusy) {
			v.textures += uint64(i) + 1
			break
		}
	}
	if err != nil {
		return err
	}

	m, err := ipc.NewControl(ipc.TypeAcceleratedFrame, v.ID, ipc.HandleBodyFrom(h))
	if err != nil {
		return err
	}
	m.Seq = v.seq
	c := e.control
	if e.data != nil {
		c = e.data
	}
	return c.Send(m)
}

func (e *Engine) export(tex gpushare.LocalTexture) (gpushare.HandleKind, uintptr, gpushare.SyncToken, error) {
	return e.cfg.HandleKind, uintptr(tex.ID()), gpushare.SyncToken{Kind: gpushare.SyncFence, Value: e.fence.Add(1)}, nil
}

type localTexture struct {
	id            uint64
	width, height uint32
}

func (t localTexture) ID() uint64                     { return t.id }
func (t localTexture) Width() uint32                  { return t.width }
func (t localTexture) Height() uint32                 { return t.height }
func (t localTexture) Format() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
