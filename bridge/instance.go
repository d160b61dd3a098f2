// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bridge

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/gpushare"
)

// DefaultFallbackThreshold is the number of consecutive accelerated import
// failures after which an instance switches to the software path for good.
const DefaultFallbackThreshold = 3

// Path is the frame delivery path of an instance.
type Path uint8

const (
	// PathSoftware delivers CPU pixel buffers.
	PathSoftware Path = iota

	// PathAccelerated delivers cross-process GPU texture handles.
	PathAccelerated
)

func (p Path) String() string {
	if p == PathAccelerated {
		return "accelerated"
	}
	return "software"
}

// ResizePolicy selects what the host sees between a resize request and the
// first engine frame of the new size.
type ResizePolicy uint8

const (
	// ResizeLetterbox rescales the last software frame into the new size,
	// preserving its aspect ratio. Accelerated frames are held.
	ResizeLetterbox ResizePolicy = iota

	// ResizeHold keeps the last frame on screen unchanged.
	ResizeHold
)

// Config configures an Instance.
type Config struct {
	// Size is the initial requested size in physical pixels.
	Size frame.Size

	// Path is the initial delivery path.
	Path Path

	// Resize selects the resize behavior.
	Resize ResizePolicy

	// FallbackThreshold overrides DefaultFallbackThreshold when positive.
	FallbackThreshold int

	// Format is the host pixel format software frames are converted to.
	// Defaults to RGBA8Unorm.
	Format gputypes.TextureFormat

	// Exchange imports accelerated frames. Without it every accelerated
	// frame counts as an import failure.
	Exchange *gpushare.Exchange

	// OnFallback is called once, on the goroutine calling PollFrame or
	// Fallback, when the instance switches to the software path.
	OnFallback func(reason error)
}

// View is what the host draws for one tick.
//
// A software View's Frame and an accelerated View's Texture stay valid until
// a later PollFrame returns a new View or the instance is detached.
type View struct {
	Seq  uint64
	Size frame.Size
	Path Path

	// Frame holds the software pixels in the host format.
	Frame *frame.Frame

	// Texture is the imported host texture of an accelerated frame.
	Texture gpushare.ImportedTexture

	// Damage bounds the pixels that changed since the previous View.
	Damage frame.Rect

	// Letterboxed is set when Frame was rescaled from another size.
	Letterboxed bool

	// Unavailable marks the placeholder shown after the engine went away.
	Unavailable bool
}

func (v *View) release() {
	if v.Frame != nil {
		v.Frame.Release()
	}
	if v.Texture != nil {
		v.Texture.Release()
	}
	*v = View{}
}

// Stats counts frame pump events.
type Stats struct {
	Offered        int
	Adopted        int
	Superseded     int // pending frames replaced by a newer one
	Stale          int // frames not newer than one already offered
	Mismatched     int // frames dropped for not matching the requested size
	Letterboxed    int
	ImportFailures int
	Fallback       bool
}

// Instance is the frame pump of one browser instance.
//
// Offer may be called from any goroutine. PollFrame, Resize, SetPopup and
// Detach belong to the host render loop.
type Instance struct {
	id        uuid.UUID
	exchange  *gpushare.Exchange
	policy    ResizePolicy
	format    gputypes.TextureFormat
	threshold int
	onFall    func(error)
	scaled    *frame.Ring

	host     sync.Mutex
	current  View
	hasView  bool
	failures int
	reframe  bool

	mu          sync.Mutex
	path        Path
	pending     *frame.Frame
	lastSeq     uint64
	target      frame.Size
	popup       *frame.Popup
	damage      *frame.Damage
	unavailable bool
	shownGone   bool
	detached    bool
	stats       Stats
}

// NewInstance creates the frame pump for instance id.
func NewInstance(id uuid.UUID, cfg Config) *Instance {
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = DefaultFallbackThreshold
	}
	if cfg.Format == gputypes.TextureFormatUndefined {
		cfg.Format = gputypes.TextureFormatRGBA8Unorm
	}
	return &Instance{
		id:        id,
		exchange:  cfg.Exchange,
		policy:    cfg.Resize,
		format:    cfg.Format,
		threshold: cfg.FallbackThreshold,
		onFall:    cfg.OnFallback,
		scaled:    frame.NewRing(2),
		path:      cfg.Path,
		target:    cfg.Size,
	}
}

// ID returns the instance id.
func (in *Instance) ID() uuid.UUID { return in.id }

// Path returns the current delivery path.
func (in *Instance) Path() Path {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.path
}

// Target returns the most recently requested size.
func (in *Instance) Target() frame.Size {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.target
}

// Stats returns a snapshot of the instance counters.
func (in *Instance) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stats
}

// Offer hands a newly delivered frame to the pump, which takes ownership of
// it. It reports whether the frame became the pending frame. Frames that are
// not newer than the last offered one, accelerated frames after a fallback,
// and all frames after Detach or MarkUnavailable are released immediately.
//
// Software frames are converted to the host format outside the lock, and
// the current popup is composited onto them.
func (in *Instance) Offer(f *frame.Frame) bool {
	if f == nil {
		return false
	}
	if err := f.Validate(); err != nil {
		slogger().Debug("bridge: dropping invalid frame", "instance", in.id, "seq", f.Seq, "err", err)
		f.Release()
		return false
	}
	if f.Software != nil {
		if err := frame.ConvertInPlace(f, in.format); err != nil {
			slogger().Debug("bridge: dropping unconvertible frame", "instance", in.id, "err", err)
			f.Release()
			return false
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.stats.Offered++
	switch {
	case in.detached || in.unavailable:
		f.Release()
		return false
	case f.Seq <= in.lastSeq:
		in.stats.Stale++
		f.Release()
		return false
	case f.Accelerated != nil && in.path == PathSoftware:
		f.Release()
		return false
	}
	in.lastSeq = f.Seq

	if f.Software != nil {
		in.trackDamage(f)
	}
	if in.pending != nil {
		in.pending.Release()
		in.stats.Superseded++
	}
	in.pending = f
	return true
}

// trackDamage composites the popup onto f and records what changed.
// Must be called with in.mu held.
func (in *Instance) trackDamage(f *frame.Frame) {
	if in.damage == nil || in.damage.Size() != f.Size {
		in.damage = frame.NewDamage(f.Size)
	} else if len(f.Software.Damage) == 0 {
		in.damage.MarkAll()
	} else {
		for _, r := range f.Software.Damage {
			in.damage.MarkRect(r)
		}
	}
	if in.popup != nil {
		in.damage.MarkRect(frame.CompositePopup(f, *in.popup))
	}
}

// SetPopup shows p over subsequent software frames, or hides the popup when
// p is nil. The pixels must be in the host format.
func (in *Instance) SetPopup(p *frame.Popup) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.popup != nil && in.damage != nil {
		in.damage.MarkRect(popupRect(in.popup))
	}
	if p == nil {
		in.popup = nil
		return
	}
	cp := *p
	in.popup = &cp
}

func popupRect(p *frame.Popup) frame.Rect {
	return frame.Rect{X: p.X, Y: p.Y, Width: p.Size.Width, Height: p.Size.Height}
}

// Resize records a new requested size. Frames of any other size are never
// surfaced from now on; until the engine delivers one of the new size the
// host keeps the last view, or a letterboxed copy of it under
// ResizeLetterbox.
func (in *Instance) Resize(size frame.Size) error {
	if size.Empty() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, size)
	}
	in.host.Lock()
	defer in.host.Unlock()

	in.mu.Lock()
	if in.detached {
		in.mu.Unlock()
		return ErrDetached
	}
	in.target = size
	in.mu.Unlock()

	in.reframe = in.policy == ResizeLetterbox &&
		in.current.Frame != nil && in.current.Size != size
	return nil
}

// PollFrame returns the view to draw if it changed since the previous call.
// It never blocks on the engine. A false result means the host keeps drawing
// what it drew last tick.
func (in *Instance) PollFrame() (View, bool) {
	in.host.Lock()
	defer in.host.Unlock()

	in.mu.Lock()
	if in.detached {
		in.mu.Unlock()
		return View{}, false
	}
	f := in.pending
	in.pending = nil
	target := in.target
	gone := in.unavailable && !in.shownGone
	in.shownGone = in.shownGone || gone
	var damage frame.Rect
	if f != nil && f.Software != nil && in.damage != nil {
		damage = in.damage.TakeBounds()
	}
	in.mu.Unlock()

	switch {
	case gone:
		f.Release()
		return in.adopt(View{Seq: in.current.Seq, Size: target, Path: in.current.Path, Unavailable: true})
	case f == nil:
		if in.reframe {
			in.reframe = false
			return in.letterbox(in.current.Frame, target)
		}
		return View{}, false
	case f.Size != target:
		return in.adoptMismatched(f, target)
	case f.Accelerated != nil:
		return in.adoptAccelerated(f)
	default:
		in.reframe = false
		return in.adopt(View{Seq: f.Seq, Size: f.Size, Path: PathSoftware, Frame: f, Damage: damage})
	}
}

// Current returns the last view returned by PollFrame.
func (in *Instance) Current() (View, bool) {
	in.host.Lock()
	defer in.host.Unlock()
	return in.current, in.hasView
}

// adopt replaces the current view. Must be called with in.host held.
func (in *Instance) adopt(v View) (View, bool) {
	if v.Damage.Empty() {
		v.Damage = frame.Rect{Width: v.Size.Width, Height: v.Size.Height}
	}
	in.current.release()
	in.current = v
	in.hasView = true

	in.mu.Lock()
	in.stats.Adopted++
	in.mu.Unlock()
	return v, true
}

func (in *Instance) adoptMismatched(f *frame.Frame, target frame.Size) (View, bool) {
	if f.Software != nil && in.policy == ResizeLetterbox {
		in.reframe = false
		v, ok := in.letterbox(f, target)
		f.Release()
		return v, ok
	}
	slogger().Debug("bridge: dropping frame of stale size",
		"instance", in.id, "seq", f.Seq, "size", f.Size, "want", target)
	f.Release()
	in.mu.Lock()
	in.stats.Mismatched++
	in.mu.Unlock()
	return View{}, false
}

// letterbox adopts src rescaled to target. src is not released.
func (in *Instance) letterbox(src *frame.Frame, target frame.Size) (View, bool) {
	if src == nil || src.Size == target {
		return View{}, false
	}
	out := frame.Letterbox(src, target, in.scaled)
	if out == nil {
		return View{}, false
	}
	in.mu.Lock()
	in.stats.Letterboxed++
	in.mu.Unlock()
	return in.adopt(View{Seq: src.Seq, Size: target, Path: PathSoftware, Frame: out, Letterboxed: true})
}

func (in *Instance) adoptAccelerated(f *frame.Frame) (View, bool) {
	if in.exchange == nil {
		f.Release()
		in.importFailed(gpushare.ErrNoImporter)
		return View{}, false
	}
	tex, err := in.exchange.Import(f.Accelerated.Slot, gpushare.Expect{
		Width:  uint32(f.Size.Width),
		Height: uint32(f.Size.Height),
		Format: f.Format,
	})
	f.Release()
	if err != nil {
		in.importFailed(err)
		return View{}, false
	}
	in.failures = 0
	in.reframe = false
	return in.adopt(View{Seq: f.Seq, Size: f.Size, Path: PathAccelerated, Texture: tex})
}

// importFailed counts a failed accelerated import. Must be called with
// in.host held.
func (in *Instance) importFailed(err error) {
	in.failures++
	in.mu.Lock()
	in.stats.ImportFailures++
	in.mu.Unlock()

	slogger().Warn("bridge: accelerated import failed",
		"instance", in.id, "consecutive", in.failures, "threshold", in.threshold, "err", err)
	if in.failures >= in.threshold {
		in.Fallback(err)
	}
}

// Fallback switches the instance to the software path for the rest of its
// life. It reports whether this call made the switch; later calls are no-ops.
func (in *Instance) Fallback(reason error) bool {
	in.mu.Lock()
	if in.path == PathSoftware || in.detached {
		in.mu.Unlock()
		return false
	}
	in.path = PathSoftware
	in.stats.Fallback = true
	if in.pending != nil && in.pending.Accelerated != nil {
		in.pending.Release()
		in.pending = nil
	}
	in.mu.Unlock()

	slogger().Warn("bridge: switching to software path", "instance", in.id, "reason", reason)
	if in.onFall != nil {
		in.onFall(reason)
	}
	return true
}

// MarkUnavailable records that the engine process is gone. The next
// PollFrame returns an Unavailable view of the requested size, and later
// frames are discarded.
func (in *Instance) MarkUnavailable() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.unavailable = true
	if in.pending != nil {
		in.pending.Release()
		in.pending = nil
	}
}

// Detach releases every frame and texture the instance holds and returns how
// many were released. Later Offers release their frame immediately and
// PollFrame returns nothing. Detach is idempotent.
func (in *Instance) Detach() int {
	in.host.Lock()
	defer in.host.Unlock()

	in.mu.Lock()
	if in.detached {
		in.mu.Unlock()
		return 0
	}
	in.detached = true
	n := 0
	if in.pending != nil {
		in.pending.Release()
		in.pending = nil
		n++
	}
	in.popup = nil
	in.damage = nil
	in.mu.Unlock()

	if in.current.Frame != nil || in.current.Texture != nil {
		n++
	}
	in.current.release()
	in.hasView = false
	return n
}
