// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ime

import (
	"math"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/ipc"
)

// State is the composition state of a forwarder.
type State uint8

const (
	// Inactive means no editable element has focus inside the page.
	Inactive State = iota

	// Composing means an editable element has focus and IME text flows to it.
	Composing
)

func (s State) String() string {
	if s == Composing {
		return "composing"
	}
	return "inactive"
}

const (
	clickInterval = 500 * time.Millisecond
	clickSlop     = 4

	// Wheel deltas are in pixels. One wheel notch is 120, as on Windows.
	wheelNotch = 120
	wheelLine  = 40
	wheelPage  = 10 * wheelLine
)

// CursorSetter shows a mouse cursor. gpucontext.PlatformProvider
// implements it.
type CursorSetter interface {
	SetCursor(gpucontext.CursorShape)
}

// SendFunc delivers one control message for the instance to the engine.
type SendFunc func(t ipc.Type, body any) error

// Config configures a Forwarder.
type Config struct {
	// Controller positions and toggles the host's native IME. Optional.
	Controller gpucontext.IMEController

	// OnCaret receives the caret rectangle in host coordinates while
	// Composing. It runs on the goroutine calling Pump.
	OnCaret func(frame.Rect)

	// Cursor shows the cursor the page asks for. Optional.
	Cursor CursorSetter

	// OnCursor, OnDragStart and OnDragCursor report engine cursor and drag
	// feedback. They run on the goroutine calling Pump.
	OnCursor     func(gpucontext.CursorShape)
	OnDragStart  func(DragStart)
	OnDragCursor func(ipc.DragOps)

	// Now overrides time.Now for click counting.
	Now func() time.Time
}

// Stats counts forwarded and dropped events.
type Stats struct {
	Forwarded           int
	DroppedComposition  int // composition updates while Inactive
	DroppedCaret        int // caret updates while Inactive
	IgnoredFocusRepeats int // focus-in while already Composing
	DroppedDrag         int // drag over, leave or drop with no drag inside the view
	SendErrors          int
}

type click struct {
	button gpucontext.Button
	x, y   int
	at     time.Time
	count  int
}

// Forwarder translates host input for one instance.
//
// Host-side methods (Key, Text, Pointer, Scroll, Compose, Commit, Pump) are
// meant for the render loop; HandleFocus and HandleCaret may be called from
// the transport goroutine. All methods are safe for concurrent use.
type Forwarder struct {
	send    SendFunc
	ctrl    gpucontext.IMEController
	onCaret func(frame.Rect)
	now     func() time.Time
	cfg     Config

	mu sync.Mutex

	// Engine requests awaiting Pump. The latest wins.
	focusReq *bool
	caretReq *frame.Rect
	cursor   *gpucontext.CursorShape
	dragOp   *ipc.DragOps
	dragOut  *DragStart

	state       State
	composition bool
	caret       frame.Rect

	originX, originY float64
	scale            float64

	down    map[gpucontext.Key]bool
	mods    gpucontext.Modifiers
	buttons gpucontext.Buttons
	lastX   int
	lastY   int
	click   click
	drag    bool
	stats   Stats
}

// NewForwarder creates a forwarder sending through send.
func NewForwarder(send SendFunc, cfg Config) *Forwarder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Forwarder{
		send:    send,
		ctrl:    cfg.Controller,
		onCaret: cfg.OnCaret,
		now:     cfg.Now,
		cfg:     cfg,
		scale:   1,
		down:    make(map[gpucontext.Key]bool),
	}
}

// SetView places the view inside the host window: host coordinates minus
// the origin, multiplied by scale, give view coordinates.
func (f *Forwarder) SetView(originX, originY, scale float64) {
	if scale <= 0 {
		scale = 1
	}
	f.mu.Lock()
	f.originX, f.originY, f.scale = originX, originY, scale
	f.mu.Unlock()
}

// State returns the current composition state.
func (f *Forwarder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Caret returns the last caret rectangle accepted, in view coordinates.
func (f *Forwarder) Caret() frame.Rect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caret
}

// Stats returns a snapshot of the counters.
func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// HandleMessage consumes engine messages addressed to the forwarder and
// reports whether m was one of them.
func (f *Forwarder) HandleMessage(m *ipc.Message) bool {
	switch m.Type {
	case ipc.TypeFocus:
		var b ipc.FocusBody
		if err := m.Decode(&b); err != nil {
			slogger().Debug("ime: bad focus message", "err", err)
			return true
		}
		f.HandleFocus(b)
	case ipc.TypeCaret:
		var b ipc.RectBody
		if err := m.Decode(&b); err != nil {
			slogger().Debug("ime: bad caret message", "err", err)
			return true
		}
		f.HandleCaret(b)
	case ipc.TypeCursor:
		var b ipc.CursorBody
		if err := m.Decode(&b); err != nil {
			slogger().Debug("ime: bad cursor message", "err", err)
			return true
		}
		shape := CursorShape(b.Cursor)
		f.mu.Lock()
		f.cursor = &shape
		f.mu.Unlock()
	case ipc.TypeDragStarted:
		var b ipc.DragStartedBody
		if err := m.Decode(&b); err != nil {
			slogger().Debug("ime: bad drag start message", "err", err)
			return true
		}
		f.mu.Lock()
		f.dragOut = &DragStart{Data: b.Data, X: b.X, Y: b.Y, Ops: b.Ops}
		f.mu.Unlock()
	case ipc.TypeDragCursor:
		var b ipc.DragCursorBody
		if err := m.Decode(&b); err != nil {
			slogger().Debug("ime: bad drag cursor message", "err", err)
			return true
		}
		f.mu.Lock()
		f.dragOp = &b.Op
		f.mu.Unlock()
	default:
		return false
	}
	return true
}

// HandleFocus records an editable-focus change reported by the engine.
func (f *Forwarder) HandleFocus(b ipc.FocusBody) {
	on := b.Focused && b.Editable
	f.mu.Lock()
	f.focusReq = &on
	f.mu.Unlock()
}

// HandleCaret records a caret rectangle reported by the engine.
func (f *Forwarder) HandleCaret(b ipc.RectBody) {
	r := frame.Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
	f.mu.Lock()
	f.caretReq = &r
	f.mu.Unlock()
}

// Pump applies the engine requests recorded since the last call: focus
// first, then the caret, so a caret that raced a focus loss is dropped.
// Cursor and drag feedback follow.
func (f *Forwarder) Pump() {
	f.mu.Lock()
	var caret *frame.Rect
	var notify func(frame.Rect)
	cursor, dragOp, dragOut := f.cursor, f.dragOp, f.dragOut
	f.cursor, f.dragOp, f.dragOut = nil, nil, nil
	if dragOut != nil {
		dragOut.X, dragOut.Y = f.toHost(dragOut.X, dragOut.Y)
	}
	if f.focusReq != nil {
		f.setState(*f.focusReq)
		f.focusReq = nil
	}
	if f.caretReq != nil {
		if f.state == Composing {
			f.caret = *f.caretReq
			hostRect := f.toHostRect(f.caret)
			caret, notify = &hostRect, f.onCaret
			if f.ctrl != nil {
				f.ctrl.SetIMEPosition(hostRect.X, hostRect.Y+hostRect.Height)
			}
		} else {
			f.stats.DroppedCaret++
		}
		f.caretReq = nil
	}
	f.mu.Unlock()

	if caret != nil && notify != nil {
		notify(*caret)
	}
	if cursor != nil {
		if f.cfg.Cursor != nil {
			f.cfg.Cursor.SetCursor(*cursor)
		}
		if f.cfg.OnCursor != nil {
			f.cfg.OnCursor(*cursor)
		}
	}
	if dragOut != nil && f.cfg.OnDragStart != nil {
		f.cfg.OnDragStart(*dragOut)
	}
	if dragOp != nil && f.cfg.OnDragCursor != nil {
		f.cfg.OnDragCursor(*dragOp)
	}
}

// setState must be called with f.mu held.
func (f *Forwarder) setState(editable bool) {
	switch {
	case editable && f.state == Composing:
		f.stats.IgnoredFocusRepeats++
	case editable:
		f.state = Composing
		if f.ctrl != nil {
			f.ctrl.SetIMEEnabled(true)
		}
		slogger().Debug("ime: composing")
	case f.state == Composing:
		f.state = Inactive
		f.composition = false
		if f.ctrl != nil {
			f.ctrl.SetIMEEnabled(false)
		}
		slogger().Debug("ime: inactive")
	}
}

// Compose forwards an in-progress composition. It reports whether the
// update was forwarded; updates while Inactive are dropped. An empty or
// finished composition cancels the one in progress.
func (f *Forwarder) Compose(st gpucontext.IMEState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != Composing {
		f.stats.DroppedComposition++
		return false
	}
	if !st.Composing || st.CompositionText == "" {
		f.cancelLocked()
		return true
	}

	start, end := st.SelectionStart, st.SelectionEnd
	if start == 0 && end == 0 {
		start, end = st.CursorPos, st.CursorPos
	}
	f.composition = true
	f.sendLocked(ipc.TypeComposition, ipc.CompositionBody{
		Text:         norm.NFC.String(st.CompositionText),
		SelStart:     utf16Offset(st.CompositionText, start),
		SelEnd:       utf16Offset(st.CompositionText, end),
		ReplaceStart: -1,
		ReplaceEnd:   -1,
	})
	return true
}

// Commit finishes the composition with text. Committing an empty string
// cancels instead. Commits while Inactive are dropped.
func (f *Forwarder) Commit(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != Composing {
		f.stats.DroppedComposition++
		return false
	}
	if text == "" {
		f.cancelLocked()
		return true
	}
	f.composition = false
	f.sendLocked(ipc.TypeCommit, ipc.CommitBody{Text: norm.NFC.String(text)})
	return true
}

// Cancel abandons the composition in progress, if any.
func (f *Forwarder) Cancel() {
	f.mu.Lock()
	f.cancelLocked()
	f.mu.Unlock()
}

func (f *Forwarder) cancelLocked() {
	if !f.composition {
		return
	}
	f.composition = false
	f.sendLocked(ipc.TypeCancelIME, nil)
}

// Focus tells the engine whether the view has keyboard focus. Losing focus
// forgets held keys, whose releases the host will not report.
func (f *Forwarder) Focus(focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !focused {
		clear(f.down)
	}
	f.sendLocked(ipc.TypeFocus, ipc.FocusBody{Focused: focused})
}

// Key forwards a key press or release. The first press sends a raw key
// down, auto-repeats send key down. Releases of navigation keys are not
// forwarded.
func (f *Forwarder) Key(k gpucontext.Key, mods gpucontext.Modifiers, pressed bool) {
	code := WindowsKeyCode(k)
	if code == 0 {
		return
	}
	flags := keyFlags(mods)
	if isKeypad(k) {
		flags |= FlagKeyPad
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.mods = mods

	if !pressed {
		delete(f.down, k)
		if isNavigation(k) {
			return
		}
		f.sendLocked(ipc.TypeKey, ipc.KeyBody{
			Kind:           ipc.KeyUp,
			WindowsKeyCode: code,
			Character:      controlChar(k),
			Modifiers:      flags,
		})
		return
	}

	kind := ipc.KeyRawDown
	if f.down[k] {
		kind = ipc.KeyDown
	}
	f.down[k] = true
	f.sendLocked(ipc.TypeKey, ipc.KeyBody{
		Kind:           kind,
		WindowsKeyCode: code,
		Character:      controlChar(k),
		Modifiers:      flags,
	})
}

// Text forwards typed text. While Composing it is committed into the focused
// element; otherwise it becomes one character event per UTF-16 code unit.
func (f *Forwarder) Text(s string) {
	if s == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Composing {
		f.composition = false
		f.sendLocked(ipc.TypeCommit, ipc.CommitBody{Text: norm.NFC.String(s)})
		return
	}
	flags := keyFlags(f.mods)
	for _, u := range utf16Units(s) {
		f.sendLocked(ipc.TypeKey, ipc.KeyBody{
			Kind:           ipc.KeyChar,
			WindowsKeyCode: int(u),
			Character:      u,
			Modifiers:      flags,
		})
	}
}

// Pointer forwards a pointer event. Only the primary pointer is forwarded.
func (f *Forwarder) Pointer(ev gpucontext.PointerEvent) {
	if !ev.IsPrimary && ev.PointerType != gpucontext.PointerTypeMouse {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	x, y := f.toView(ev.X, ev.Y)
	f.lastX, f.lastY = x, y
	f.mods = ev.Modifiers
	body := ipc.MouseBody{
		X:         x,
		Y:         y,
		Button:    ipc.ButtonNone,
		Modifiers: keyFlags(ev.Modifiers) | buttonFlags(ev.Buttons),
	}

	switch ev.Type {
	case gpucontext.PointerMove, gpucontext.PointerEnter:
		body.Kind = ipc.MouseMove
	case gpucontext.PointerLeave, gpucontext.PointerCancel:
		body.Kind = ipc.MouseLeave
	case gpucontext.PointerDown, gpucontext.PointerUp:
		button, ok := mouseButton(ev.Button)
		if !ok {
			return
		}
		body.Button = button
		if ev.Type == gpucontext.PointerDown {
			body.Kind = ipc.MouseDown
			body.ClickCount = f.countClick(ev.Button, x, y)
		} else {
			body.Kind = ipc.MouseUp
			body.ClickCount = max(f.click.count, 1)
		}
	default:
		return
	}
	f.sendLocked(ipc.TypeMouse, body)
}

// countClick must be called with f.mu held.
func (f *Forwarder) countClick(b gpucontext.Button, x, y int) int {
	now := f.now()
	c := f.click
	if c.count > 0 && c.button == b && now.Sub(c.at) <= clickInterval &&
		abs(c.x-x) <= clickSlop && abs(c.y-y) <= clickSlop {
		c.count++
	} else {
		c.count = 1
	}
	c.button, c.x, c.y, c.at = b, x, y, now
	f.click = c
	return c.count
}

func mouseButton(b gpucontext.Button) (int, bool) {
	switch b {
	case gpucontext.ButtonLeft:
		return ipc.ButtonLeft, true
	case gpucontext.ButtonMiddle:
		return ipc.ButtonMiddle, true
	case gpucontext.ButtonRight:
		return ipc.ButtonRight, true
	}
	return 0, false
}

// Scroll forwards a scroll event. Deltas follow the DOM convention (positive
// scrolls down and right); the engine expects the opposite sign.
func (f *Forwarder) Scroll(ev gpucontext.ScrollEvent) {
	unit := 1.0
	switch ev.DeltaMode {
	case gpucontext.ScrollDeltaLine:
		unit = wheelLine
	case gpucontext.ScrollDeltaPage:
		unit = wheelPage
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	x, y := f.toView(ev.X, ev.Y)
	f.wheelLocked(x, y, -ev.DeltaX*unit*f.scale, -ev.DeltaY*unit*f.scale, keyFlags(ev.Modifiers))
}

// Wheel forwards wheel notches at the last pointer position. Positive dy
// scrolls up, positive dx scrolls right.
func (f *Forwarder) Wheel(dx, dy float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wheelLocked(f.lastX, f.lastY, dx*wheelNotch, dy*wheelNotch, keyFlags(f.mods))
}

func (f *Forwarder) wheelLocked(x, y int, dx, dy float64, flags uint32) {
	body := ipc.WheelBody{
		X:         x,
		Y:         y,
		DeltaX:    int(math.Round(dx)),
		DeltaY:    int(math.Round(dy)),
		Modifiers: flags | buttonFlags(f.buttons),
	}
	if body.DeltaX == 0 && body.DeltaY == 0 {
		return
	}
	f.sendLocked(ipc.TypeWheel, body)
}

// MouseMove, MousePress and MouseRelease adapt the basic event source
// callbacks to Pointer.
func (f *Forwarder) MouseMove(x, y float64) {
	f.Pointer(f.legacyPointer(gpucontext.PointerMove, gpucontext.ButtonNone, x, y))
}

func (f *Forwarder) MousePress(b gpucontext.MouseButton, x, y float64) {
	button, bit := legacyButton(b)
	f.mu.Lock()
	f.buttons |= bit
	f.mu.Unlock()
	f.Pointer(f.legacyPointer(gpucontext.PointerDown, button, x, y))
}

func (f *Forwarder) MouseRelease(b gpucontext.MouseButton, x, y float64) {
	button, bit := legacyButton(b)
	f.mu.Lock()
	f.buttons &^= bit
	f.mu.Unlock()
	f.Pointer(f.legacyPointer(gpucontext.PointerUp, button, x, y))
}

func (f *Forwarder) legacyPointer(t gpucontext.PointerEventType, b gpucontext.Button, x, y float64) gpucontext.PointerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gpucontext.PointerEvent{
		Type:        t,
		PointerID:   1,
		X:           x,
		Y:           y,
		PointerType: gpucontext.PointerTypeMouse,
		IsPrimary:   true,
		Button:      b,
		Buttons:     f.buttons,
		Modifiers:   f.mods,
	}
}

func legacyButton(b gpucontext.MouseButton) (gpucontext.Button, gpucontext.Buttons) {
	switch b {
	case gpucontext.MouseButtonLeft:
		return gpucontext.ButtonLeft, gpucontext.ButtonsLeft
	case gpucontext.MouseButtonRight:
		return gpucontext.ButtonRight, gpucontext.ButtonsRight
	case gpucontext.MouseButtonMiddle:
		return gpucontext.ButtonMiddle, gpucontext.ButtonsMiddle
	case gpucontext.MouseButton4:
		return gpucontext.ButtonX1, gpucontext.ButtonsX1
	case gpucontext.MouseButton5:
		return gpucontext.ButtonX2, gpucontext.ButtonsX2
	}
	return gpucontext.ButtonNone, 0
}

// Attach subscribes the forwarder to a host event source. Sources that
// also implement gpucontext.PointerEventSource or ScrollEventSource are
// read through those richer interfaces instead of the basic mouse and
// scroll callbacks.
func (f *Forwarder) Attach(src gpucontext.EventSource) {
	src.OnKeyPress(func(k gpucontext.Key, m gpucontext.Modifiers) { f.Key(k, m, true) })
	src.OnKeyRelease(func(k gpucontext.Key, m gpucontext.Modifiers) { f.Key(k, m, false) })
	src.OnTextInput(f.Text)
	src.OnFocus(f.Focus)
	src.OnIMECompositionUpdate(func(st gpucontext.IMEState) { f.Compose(st) })
	src.OnIMECompositionEnd(func(text string) { f.Commit(text) })

	if ps, ok := src.(gpucontext.PointerEventSource); ok {
		ps.OnPointer(f.Pointer)
	} else {
		src.OnMouseMove(f.MouseMove)
		src.OnMousePress(f.MousePress)
		src.OnMouseRelease(f.MouseRelease)
	}
	if ss, ok := src.(gpucontext.ScrollEventSource); ok {
		ss.OnScrollEvent(f.Scroll)
	} else {
		src.OnScroll(f.Wheel)
	}
}

// sendLocked must be called with f.mu held.
func (f *Forwarder) sendLocked(t ipc.Type, body any) {
	if err := f.send(t, body); err != nil {
		f.stats.SendErrors++
		slogger().Debug("ime: send failed", "type", t, "err", err)
		return
	}
	f.stats.Forwarded++
}

func (f *Forwarder) toView(x, y float64) (int, int) {
	return int(math.Round((x - f.originX) * f.scale)), int(math.Round((y - f.originY) * f.scale))
}

func (f *Forwarder) toHost(x, y int) (int, int) {
	return int(math.Round(float64(x)/f.scale + f.originX)), int(math.Round(float64(y)/f.scale + f.originY))
}

func (f *Forwarder) toHostRect(r frame.Rect) frame.Rect {
	return frame.Rect{
		X:      int(math.Round(float64(r.X)/f.scale + f.originX)),
		Y:      int(math.Round(float64(r.Y)/f.scale + f.originY)),
		Width:  int(math.Round(float64(r.Width) / f.scale)),
		Height: int(math.Round(float64(r.Height) / f.scale)),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
