package webtex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/bridge"
	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ime"
	"github.com/gogpu/webtex/internal/journal"
	"github.com/gogpu/webtex/ipc"
)

// instance is one browser instance as seen by the host.
type instance struct {
	id   InstanceID
	core *Core
	eng  *engine

	bridge *bridge.Instance
	ch     *ipc.Channel
	ime    *ime.Forwarder
	pub    *bridge.Publisher
	events eventQueue

	mu        sync.Mutex
	cfg       InstanceConfig
	state     InstanceState
	announced bool
	popup     frame.Rect
	audio     AudioState
}

func newInstance(c *Core, eng *engine, cfg InstanceConfig, path RenderPath) (*instance, error) {
	pub, err := bridge.NewPublisher(0)
	if err != nil {
		return nil, err
	}
	in := &instance{
		id:   uuid.New(),
		core: c,
		eng:  eng,
		cfg:  cfg,
		pub:  pub,
	}
	in.bridge = bridge.NewInstance(in.id, bridge.Config{
		Size:              cfg.physical(cfg.Size),
		Path:              path,
		Resize:            cfg.Resize,
		FallbackThreshold: c.opts.threshold,
		Exchange:          c.exchange,
		OnFallback:        in.fellBack,
	})
	in.ch = ipc.NewChannel(in.id, eng.control.Send)
	in.ime = ime.NewForwarder(in.sendInput, ime.Config{
		Controller:   c.opts.controller,
		OnCaret:      in.caretMoved,
		Cursor:       c.opts.cursor,
		OnCursor:     func(cur Cursor) { in.events.push(event{id: in.id, cursor: &cur}) },
		OnDragStart:  func(d DragStart) { in.events.push(event{id: in.id, dragStart: &d}) },
		OnDragCursor: func(op DragOps) { in.events.push(event{id: in.id, dragOp: &op}) },
	})
	return in, nil
}

func (in *instance) sendInput(t ipc.Type, body any) error {
	return in.eng.sendControl(t, in.id, body)
}

func (in *instance) caretMoved(r frame.Rect) {
	in.events.push(event{id: in.id, caret: &r})
}

// setState records a transition and queues its event. Terminal states are
// never left, and each state is announced once.
func (in *instance) setState(s InstanceState, err error) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state.Terminal() || (in.announced && in.state == s) {
		return false
	}
	in.state = s
	in.announced = true
	// Queued under in.mu so events of one instance keep their order.
	in.events.push(event{id: in.id, state: &StateEvent{State: s, Err: err}})
	return true
}

// fellBack runs when the bridge gives up on the accelerated path.
func (in *instance) fellBack(reason error) {
	if reason == nil {
		reason = errors.New("accelerated path abandoned")
	}
	err := in.eng.sendControl(ipc.TypeSetPath, in.id, ipc.PathBody{Accelerated: false, Reason: reason.Error()})
	if err != nil {
		Logger().Debug("webtex: path change not delivered", "instance", in.id, "err", err)
	}
	if in.setState(StateSoftware, reason) {
		in.core.record(journal.Entry{Kind: journal.InstanceFallback, PID: in.eng.pid, Instance: in.id.String(), Detail: reason.Error()})
	}
}

// engineGone handles the death of the instance's engine.
func (in *instance) engineGone(cause error) {
	in.bridge.MarkUnavailable()
	in.ch.Close(cause)
	in.eng.arena.ReleaseInstance(in.id)
	in.setState(StateCrashed, cause)
}

// discard releases an instance that never became visible to the host.
func (in *instance) discard() {
	in.bridge.Detach()
	in.eng.arena.ReleaseInstance(in.id)
	in.core.exchange.Forget(in.id)
	in.ch.Drop()
	in.events.close()
	_ = in.pub.Close()
}

// destroy tears the instance down on the host and tells the engine.
func (in *instance) destroy() {
	in.eng.forget(in.id)
	released := in.bridge.Detach()
	released += in.eng.arena.ReleaseInstance(in.id)
	in.core.exchange.Forget(in.id)
	in.ch.Drop()
	if err := in.pub.Close(); err != nil {
		Logger().Debug("webtex: closing publisher", "instance", in.id, "err", err)
	}
	if err := in.eng.sendControl(ipc.TypeDestroy, in.id, nil); err != nil {
		Logger().Debug("webtex: destroy not delivered", "instance", in.id, "err", err)
	}
	in.setState(StateDestroyed, nil)
	in.events.close()
	Logger().Info("webtex: instance destroyed", "instance", in.id, "released", released)
}

// resize applies a new logical size (when non-empty) and scale factor (when
// positive) and forwards the resulting physical size to the engine.
func (in *instance) resize(size Size, scale float64) error {
	in.mu.Lock()
	cfg := in.cfg
	if !size.Empty() {
		cfg.Size = size
	} else if scale <= 0 {
		in.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidSize, size)
	}
	if scale > 0 {
		cfg.ScaleFactor = scale
	}
	physical := cfg.physical(cfg.Size)
	if physical.Empty() {
		in.mu.Unlock()
		return fmt.Errorf("%w: %s at scale %v", ErrInvalidSize, cfg.Size, cfg.ScaleFactor)
	}
	in.cfg = cfg
	in.mu.Unlock()

	if err := in.bridge.Resize(physical); err != nil {
		return err
	}
	return in.eng.sendControl(ipc.TypeResize, in.id, ipc.ResizeBody{
		Width:  physical.Width,
		Height: physical.Height,
		Scale:  cfg.ScaleFactor,
	})
}

func (in *instance) setIme(st ImeState) {
	switch {
	case st.Active && st.CompositionText != "":
		in.ime.Compose(gpucontext.IMEState{
			Composing:       true,
			CompositionText: st.CompositionText,
			CursorPos:       st.Cursor,
			SelectionStart:  st.SelectionStart,
			SelectionEnd:    st.SelectionEnd,
		})
	case st.CompositionText != "":
		in.ime.Commit(st.CompositionText)
	default:
		in.ime.Cancel()
	}
}

// handle runs on the transport reader goroutines.
func (in *instance) handle(m *ipc.Message) {
	switch m.Type {
	case ipc.TypeSoftwareFrame:
		in.onSoftwareFrame(m)
	case ipc.TypeAcceleratedFrame:
		in.onAcceleratedFrame(m)
	case ipc.TypePopup:
		var b ipc.PopupBody
		if m.Decode(&b) != nil {
			return
		}
		if !b.Show {
			in.bridge.SetPopup(nil)
			return
		}
		in.mu.Lock()
		in.popup = frame.Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
		in.mu.Unlock()
	case ipc.TypeFocus, ipc.TypeCaret, ipc.TypeCursor, ipc.TypeDragStarted, ipc.TypeDragCursor:
		in.ime.HandleMessage(m)
	case ipc.TypeText, ipc.TypeBinary:
		if err := in.ch.Deliver(m); err != nil {
			Logger().Warn("webtex: channel closed", "instance", in.id, "err", err)
		}
	case ipc.TypeLoading:
		var b ipc.LoadingBody
		if m.Decode(&b) == nil {
			in.events.push(event{id: in.id, loading: &LoadingState{
				Loading:      b.Loading,
				CanGoBack:    b.CanGoBack,
				CanGoForward: b.CanGoForward,
			}})
		}
	case ipc.TypeAddress:
		var b ipc.AddressBody
		if m.Decode(&b) == nil {
			in.events.push(event{id: in.id, address: &b.URL})
		}
	case ipc.TypeTitle:
		var b ipc.TitleBody
		if m.Decode(&b) == nil {
			in.events.push(event{id: in.id, title: &b.Title})
		}
	case ipc.TypeConsole:
		var b ipc.ConsoleBody
		if m.Decode(&b) == nil {
			in.events.push(event{id: in.id, console: &ConsoleMessage{
				Level:   b.Level,
				Message: b.Message,
				Source:  b.Source,
				Line:    b.Line,
			}})
		}
	case ipc.TypeAudio:
		var b ipc.AudioBody
		if m.Decode(&b) != nil {
			return
		}
		in.mu.Lock()
		in.audio.Playing = b.Playing
		in.audio.Channels = b.Channels
		in.audio.SampleRate = b.SampleRate
		in.audio.FramesPerBuffer = b.FramesPerBuffer
		a := in.audio
		in.mu.Unlock()
		in.events.push(event{id: in.id, audio: &a})
	case ipc.TypeDownload:
		var b ipc.DownloadBody
		if m.Decode(&b) == nil {
			in.events.push(event{id: in.id, download: &DownloadRequest{
				ID:            b.ID,
				URL:           b.URL,
				OriginalURL:   b.OriginalURL,
				SuggestedName: b.SuggestedName,
				MimeType:      b.MimeType,
				TotalBytes:    b.TotalBytes,
			}})
		}
	case ipc.TypeDownloadUpdate:
		var b ipc.DownloadUpdateBody
		if m.Decode(&b) == nil {
			in.events.push(event{id: in.id, progress: &DownloadUpdate{
				ID:            b.ID,
				URL:           b.URL,
				FullPath:      b.FullPath,
				ReceivedBytes: b.ReceivedBytes,
				TotalBytes:    b.TotalBytes,
				Speed:         b.Speed,
				Percent:       b.Percent,
				InProgress:    b.InProgress,
				Complete:      b.Complete,
				Canceled:      b.Canceled,
			}})
		}
	default:
		Logger().Debug("webtex: ignoring message", "msg", m.String())
	}
}

func (in *instance) onSoftwareFrame(m *ipc.Message) {
	hdr, px, err := ipc.DecodeSoftwareFrame(m.Body)
	if err != nil {
		Logger().Debug("webtex: bad software frame", "instance", in.id, "err", err)
		return
	}
	size := Size{Width: hdr.Width, Height: hdr.Height}
	f := frame.NewSoftware(m.Seq, size, hdr.Format, hdr.Stride, px, nil)

	if m.Flags&ipc.FlagPopup != 0 {
		in.showPopup(f)
		return
	}
	for _, r := range hdr.Damage {
		f.Software.Damage = append(f.Software.Damage, Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
	}
	in.bridge.Offer(f)
}

// showPopup installs popup pixels at the position of the last popup message.
func (in *instance) showPopup(f *frame.Frame) {
	if err := frame.ConvertInPlace(f, gputypes.TextureFormatRGBA8Unorm); err != nil {
		Logger().Debug("webtex: bad popup frame", "instance", in.id, "err", err)
		return
	}
	in.mu.Lock()
	at := in.popup
	in.mu.Unlock()
	in.bridge.SetPopup(&frame.Popup{
		Pixels: f.Tight(),
		Size:   f.Size,
		X:      at.X,
		Y:      at.Y,
	})
}

func (in *instance) onAcceleratedFrame(m *ipc.Message) {
	var b ipc.HandleBody
	if err := m.Decode(&b); err != nil {
		Logger().Debug("webtex: bad accelerated frame", "instance", in.id, "err", err)
		return
	}
	h := b.Handle(in.id)
	if len(m.FDs) > 0 && h.Kind == gpushare.HandleFD {
		h.Value = uintptr(m.FDs[0])
	}
	h, err := gpushare.Adopt(in.eng.pid, h)
	if err != nil {
		Logger().Debug("webtex: cannot adopt handle", "instance", in.id, "err", err)
		in.eng.releaseHandle(b.Handle(in.id))
		return
	}
	slot, err := in.eng.arena.Acquire(h)
	if err != nil {
		Logger().Debug("webtex: handle rejected", "instance", in.id, "token", b.Token, "err", err)
		return
	}
	in.bridge.Offer(frame.NewAccelerated(m.Seq, slot))
}
