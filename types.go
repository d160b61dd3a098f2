package webtex

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/bridge"
	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ime"
	"github.com/gogpu/webtex/ipc"
)

// InstanceID identifies a browser instance for the life of a Core.
type InstanceID = uuid.UUID

// Size is a width and height in pixels.
type Size = frame.Size

// Rect is an axis-aligned rectangle in pixels.
type Rect = frame.Rect

// Envelope is one message on an instance's channel.
type Envelope = ipc.Envelope

// Envelope kinds.
const (
	KindText   = ipc.KindText
	KindBinary = ipc.KindBinary
)

// Text returns a text envelope.
func Text(s string) Envelope { return ipc.Text(s) }

// Binary returns a binary envelope. The slice is sent as-is.
func Binary(b []byte) Envelope { return ipc.Binary(b) }

// RenderPath is the frame delivery path of an instance.
type RenderPath = bridge.Path

// Render paths.
const (
	PathSoftware    = bridge.PathSoftware
	PathAccelerated = bridge.PathAccelerated
)

// ResizePolicy selects what is shown between a resize and the first frame of
// the new size.
type ResizePolicy = bridge.ResizePolicy

// Resize policies.
const (
	ResizeLetterbox = bridge.ResizeLetterbox
	ResizeHold      = bridge.ResizeHold
)

// InstanceState is the host-visible lifecycle state of an instance.
type InstanceState uint8

const (
	// StateRunning: the engine created the instance and frames flow.
	StateRunning InstanceState = iota

	// StateSoftware: the instance left the accelerated path for good and
	// keeps running on software frames.
	StateSoftware

	// StateCrashed: the engine process died. Terminal. Frames show the
	// unavailable placeholder and the channel is closed.
	StateCrashed

	// StateDestroyed: the host destroyed the instance. Terminal.
	StateDestroyed
)

// String returns the state name.
func (s InstanceState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSoftware:
		return "software"
	case StateCrashed:
		return "crashed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("InstanceState(%d)", s)
	}
}

// Terminal reports whether no further transitions follow s.
func (s InstanceState) Terminal() bool {
	return s == StateCrashed || s == StateDestroyed
}

// StateEvent is one instance state transition.
type StateEvent struct {
	State InstanceState

	// Err explains the transition: the fallback reason for StateSoftware
	// or the exit of the engine for StateCrashed.
	Err error
}

// ImeState is the host side of an instance's input method.
//
// SetIme sends it to the engine. Ime reads back the engine-driven part:
// whether an editable element has focus (Active) and its caret rectangle.
type ImeState struct {
	// Active reports that composition text may be sent. When the host
	// calls SetIme with Active false, non-empty CompositionText is
	// committed and empty text cancels the composition.
	Active bool

	CompositionText string

	// Cursor is the caret offset in runes within CompositionText.
	// SelectionStart and SelectionEnd, when they differ, select a range.
	Cursor         int
	SelectionStart int
	SelectionEnd   int

	// CaretRect is the engine's caret in host coordinates. Ignored by
	// SetIme.
	CaretRect Rect
}

// Frame describes what to draw for an instance this tick.
type Frame struct {
	Seq  uint64
	Size Size
	Path RenderPath

	// Pixels holds tightly packed RGBA rows of a software frame. Nil for
	// accelerated frames and the unavailable placeholder.
	Pixels []byte

	// Shared is the imported texture of an accelerated frame.
	Shared gpushare.ImportedTexture

	// Damage bounds the pixels that changed since the previous Frame.
	Damage Rect

	// Letterboxed is set while an old frame is shown rescaled after a
	// resize.
	Letterboxed bool

	// Unavailable marks the placeholder of a crashed instance.
	Unavailable bool
}

func frameFromView(v bridge.View) Frame {
	f := Frame{
		Seq:         v.Seq,
		Size:        v.Size,
		Path:        v.Path,
		Shared:      v.Texture,
		Damage:      v.Damage,
		Letterboxed: v.Letterboxed,
		Unavailable: v.Unavailable,
	}
	if v.Frame != nil && v.Frame.Software != nil {
		f.Pixels = v.Frame.Tight()
	}
	return f
}

// LoadingState is the navigation state of an instance.
type LoadingState struct {
	Loading      bool
	CanGoBack    bool
	CanGoForward bool
}

// ConsoleMessage is a console message logged by page scripts.
type ConsoleMessage struct {
	Level   int
	Message string
	Source  string
	Line    int
}

// AudioState describes an instance's audio stream.
type AudioState struct {
	Playing         bool
	Muted           bool
	Channels        int
	SampleRate      int
	FramesPerBuffer int
}

// Cursor is the mouse cursor a page asks the host to show.
type Cursor = gpucontext.CursorShape

// DragOps is a set of drag and drop operations.
type DragOps = ipc.DragOps

// Drag operations.
const (
	DragNone  = ipc.DragNone
	DragCopy  = ipc.DragCopy
	DragLink  = ipc.DragLink
	DragMove  = ipc.DragMove
	DragEvery = ipc.DragEvery
)

// DragData describes dragged content: a link, a text fragment or files.
type DragData = ipc.DragData

// DragStart describes content a page started dragging out of its view, at
// a position in host coordinates.
type DragStart = ime.DragStart

// DownloadRequest reports a download a page started.
type DownloadRequest struct {
	ID            uint32
	URL           string
	OriginalURL   string
	SuggestedName string
	MimeType      string
	TotalBytes    int64
}

// DownloadUpdate reports the progress of a download. TotalBytes is
// negative when the size is unknown.
type DownloadUpdate struct {
	ID            uint32
	URL           string
	FullPath      string
	ReceivedBytes int64
	TotalBytes    int64
	Speed         int64
	Percent       int
	InProgress    bool
	Complete      bool
	Canceled      bool
}
