// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/gpushare"
)

// NewControl builds a message with a JSON body.
func NewControl(t Type, instance uuid.UUID, body any) (*Message, error) {
	m := &Message{Type: t, Instance: instance}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ipc: marshal %s body: %w", t, err)
		}
		m.Body = b
	}
	return m, nil
}

// Decode unmarshals a JSON body into dst.
func (m *Message) Decode(dst any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%w: %s: empty body", ErrProtocol, m.Type)
	}
	if err := json.Unmarshal(m.Body, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, m.Type, err)
	}
	return nil
}

// HelloBody opens a session.
type HelloBody struct {
	Version  int      `json:"version"`
	PID      int      `json:"pid"`
	Handles  []string `json:"handles,omitempty"`
	Features []string `json:"features,omitempty"`
}

// HelloAckBody answers HelloBody.
type HelloAckBody struct {
	Version int    `json:"version"`
	PID     int    `json:"pid"`
	Engine  string `json:"engine,omitempty"`
}

// ErrorBody reports a failure to the peer.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateBody asks the engine to create a browser instance.
type CreateBody struct {
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Scale       float64 `json:"scale"`
	FrameRate   int     `json:"frame_rate"`
	Transparent bool    `json:"transparent,omitempty"`
	Accelerated bool    `json:"accelerated,omitempty"`
	Audio       bool    `json:"audio,omitempty"`
}

// CreatedBody answers CreateBody.
type CreatedBody struct {
	Accelerated bool   `json:"accelerated"`
	Error       string `json:"error,omitempty"`
}

// ResizeBody carries a new view size in physical pixels.
type ResizeBody struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// FrameRateBody sets the maximum frames per second.
type FrameRateBody struct {
	FPS int `json:"fps"`
}

// PathBody tells the engine which frame path to use.
type PathBody struct {
	Accelerated bool   `json:"accelerated"`
	Reason      string `json:"reason,omitempty"`
}

// MuteBody mutes or unmutes an instance's audio.
type MuteBody struct {
	Muted bool `json:"muted"`
}

// HandleBody describes a shared texture sent on the data plane. On unix
// the file descriptor travels out of band and Value is ignored.
type HandleBody struct {
	Kind      uint8  `json:"kind"`
	Value     uint64 `json:"value,omitempty"`
	Token     uint64 `json:"token"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	Format    uint32 `json:"format"`
	Stride    uint32 `json:"stride,omitempty"`
	Offset    uint64 `json:"offset,omitempty"`
	Modifier  uint64 `json:"modifier,omitempty"`
	Adapter   []byte `json:"adapter,omitempty"`
	SyncKind  uint8  `json:"sync_kind"`
	SyncValue uint64 `json:"sync_value,omitempty"`
}

// HandleBodyFrom describes h.
func HandleBodyFrom(h gpushare.CrossProcessHandle) HandleBody {
	return HandleBody{
		Kind:      uint8(h.Kind),
		Value:     uint64(h.Value),
		Token:     h.Token,
		Width:     h.Width,
		Height:    h.Height,
		Format:    uint32(h.Format),
		Stride:    h.Stride,
		Offset:    h.Offset,
		Modifier:  h.Modifier,
		Adapter:   h.Adapter,
		SyncKind:  uint8(h.Sync.Kind),
		SyncValue: h.Sync.Value,
	}
}

// Handle rebuilds the handle for instance.
func (b HandleBody) Handle(instance uuid.UUID) gpushare.CrossProcessHandle {
	return gpushare.CrossProcessHandle{
		Kind:     gpushare.HandleKind(b.Kind),
		Value:    uintptr(b.Value),
		Token:    b.Token,
		Instance: instance,
		Width:    b.Width,
		Height:   b.Height,
		Format:   gputypes.TextureFormat(b.Format),
		Stride:   b.Stride,
		Offset:   b.Offset,
		Modifier: b.Modifier,
		Adapter:  b.Adapter,
		Sync:     gpushare.SyncToken{Kind: gpushare.SyncKind(b.SyncKind), Value: b.SyncValue},
	}
}

// ReleaseBody returns a handle token to the exporter.
type ReleaseBody struct {
	Token uint64 `json:"token"`
}

// PopupBody shows or hides the popup widget.
type PopupBody struct {
	Show   bool `json:"show"`
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
}

// FocusBody reports focus changes of editable content inside the page.
type FocusBody struct {
	Focused  bool `json:"focused"`
	Editable bool `json:"editable"`
}

// RectBody is a rectangle in view pixels.
type RectBody struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CompositionBody carries in-progress IME text. Offsets are UTF-16 code
// units; a negative ReplaceStart means "replace the current composition".
type CompositionBody struct {
	Text         string `json:"text"`
	SelStart     int    `json:"sel_start"`
	SelEnd       int    `json:"sel_end"`
	ReplaceStart int    `json:"replace_start"`
	ReplaceEnd   int    `json:"replace_end"`
}

// CommitBody finishes a composition with text.
type CommitBody struct {
	Text string `json:"text"`
}

// Key event kinds.
const (
	KeyRawDown = "rawkeydown"
	KeyDown    = "keydown"
	KeyUp      = "keyup"
	KeyChar    = "char"
)

// KeyBody is a keyboard event in the engine's Windows virtual key model.
type KeyBody struct {
	Kind           string `json:"kind"`
	WindowsKeyCode int    `json:"windows_key_code"`
	NativeKeyCode  int    `json:"native_key_code,omitempty"`
	Character      uint16 `json:"character,omitempty"`
	Modifiers      uint32 `json:"modifiers"`
}

// Mouse event kinds.
const (
	MouseMove  = "move"
	MouseDown  = "down"
	MouseUp    = "up"
	MouseLeave = "leave"
)

// Mouse buttons.
const (
	ButtonNone   = -1
	ButtonLeft   = 0
	ButtonMiddle = 1
	ButtonRight  = 2
)

// MouseBody is a mouse event in view pixels.
type MouseBody struct {
	Kind       string `json:"kind"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Button     int    `json:"button"`
	ClickCount int    `json:"click_count,omitempty"`
	Modifiers  uint32 `json:"modifiers"`
}

// WheelBody is a scroll event in pixels.
type WheelBody struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	DeltaX    int    `json:"delta_x"`
	DeltaY    int    `json:"delta_y"`
	Modifiers uint32 `json:"modifiers"`
}

// LoadingBody reports navigation state.
type LoadingBody struct {
	Loading      bool `json:"loading"`
	CanGoBack    bool `json:"can_go_back"`
	CanGoForward bool `json:"can_go_forward"`
}

// AddressBody reports a URL change of the main frame.
type AddressBody struct {
	URL string `json:"url"`
}

// TitleBody reports a page title change.
type TitleBody struct {
	Title string `json:"title"`
}

// ConsoleBody is a console message from page scripts.
type ConsoleBody struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// AudioBody reports the state and parameters of an audio stream.
type AudioBody struct {
	Playing         bool `json:"playing"`
	Channels        int  `json:"channels,omitempty"`
	SampleRate      int  `json:"sample_rate,omitempty"`
	FramesPerBuffer int  `json:"frames_per_buffer,omitempty"`
}

// Cursor names sent in CursorBody.
const (
	CursorArrow      = "arrow"
	CursorIBeam      = "ibeam"
	CursorHand       = "hand"
	CursorCross      = "cross"
	CursorWait       = "wait"
	CursorHelp       = "help"
	CursorMove       = "move"
	CursorResizeNS   = "resize_ns"
	CursorResizeEW   = "resize_ew"
	CursorResizeNESW = "resize_nesw"
	CursorResizeNWSE = "resize_nwse"
	CursorNotAllowed = "not_allowed"
	CursorProgress   = "progress"
	CursorNone       = "none"
)

// CursorBody asks the host to show a mouse cursor over the view.
type CursorBody struct {
	Cursor string `json:"cursor"`
}

// DragOps is a set of drag and drop operations.
type DragOps uint32

// Drag operations. The values match the engine's.
const (
	DragNone  DragOps = 0
	DragCopy  DragOps = 1
	DragLink  DragOps = 2
	DragMove  DragOps = 16
	DragEvery DragOps = ^DragOps(0)
)

// DragData describes what is being dragged.
type DragData struct {
	Link         bool     `json:"link,omitempty"`
	File         bool     `json:"file,omitempty"`
	Fragment     bool     `json:"fragment,omitempty"`
	LinkURL      string   `json:"link_url,omitempty"`
	LinkTitle    string   `json:"link_title,omitempty"`
	FragmentText string   `json:"fragment_text,omitempty"`
	FragmentHTML string   `json:"fragment_html,omitempty"`
	FileNames    []string `json:"file_names,omitempty"`
}

// DragBody is a host drag event over the view, in view pixels. Data is set
// on TypeDragEnter only; Op is the final operation of TypeDragSourceEnded.
type DragBody struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Ops       DragOps   `json:"ops,omitempty"`
	Op        DragOps   `json:"op,omitempty"`
	Modifiers uint32    `json:"modifiers,omitempty"`
	Data      *DragData `json:"data,omitempty"`
}

// DragStartedBody reports that the page started dragging content out of
// the view.
type DragStartedBody struct {
	Data DragData `json:"data"`
	X    int      `json:"x"`
	Y    int      `json:"y"`
	Ops  DragOps  `json:"ops"`
}

// DragCursorBody reports the operation the page would perform on drop.
type DragCursorBody struct {
	Op DragOps `json:"op"`
}

// DownloadBody reports a download the page requested.
type DownloadBody struct {
	ID            uint32 `json:"id"`
	URL           string `json:"url"`
	OriginalURL   string `json:"original_url,omitempty"`
	SuggestedName string `json:"suggested_name,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
	TotalBytes    int64  `json:"total_bytes"`
}

// DownloadUpdateBody reports the progress of a download.
type DownloadUpdateBody struct {
	ID            uint32 `json:"id"`
	URL           string `json:"url,omitempty"`
	FullPath      string `json:"full_path,omitempty"`
	ReceivedBytes int64  `json:"received_bytes"`
	TotalBytes    int64  `json:"total_bytes"`
	Speed         int64  `json:"speed,omitempty"`
	Percent       int    `json:"percent"`
	InProgress    bool   `json:"in_progress,omitempty"`
	Complete      bool   `json:"complete,omitempty"`
	Canceled      bool   `json:"canceled,omitempty"`
}

// SoftwareHeader precedes the pixels of a software frame.
type SoftwareHeader struct {
	Width  int
	Height int
	Stride int
	Format gputypes.TextureFormat
	Damage []RectBody
}

const softwareHeaderFixed = 5 * 4

// EncodeSoftwareFrame builds the body of a TypeSoftwareFrame message.
func EncodeSoftwareFrame(h SoftwareHeader, pixels []byte) []byte {
	buf := make([]byte, softwareHeaderFixed+16*len(h.Damage)+len(pixels))
	binary.BigEndian.PutUint32(buf[0:], uint32(h.Width))
	binary.BigEndian.PutUint32(buf[4:], uint32(h.Height))
	binary.BigEndian.PutUint32(buf[8:], uint32(h.Stride))
	binary.BigEndian.PutUint32(buf[12:], uint32(h.Format))
	binary.BigEndian.PutUint32(buf[16:], uint32(len(h.Damage)))
	off := softwareHeaderFixed
	for _, r := range h.Damage {
		binary.BigEndian.PutUint32(buf[off:], uint32(int32(r.X)))
		binary.BigEndian.PutUint32(buf[off+4:], uint32(int32(r.Y)))
		binary.BigEndian.PutUint32(buf[off+8:], uint32(int32(r.Width)))
		binary.BigEndian.PutUint32(buf[off+12:], uint32(int32(r.Height)))
		off += 16
	}
	copy(buf[off:], pixels)
	return buf
}

// DecodeSoftwareFrame splits a TypeSoftwareFrame body into its header and
// pixels. The pixels alias body.
func DecodeSoftwareFrame(body []byte) (SoftwareHeader, []byte, error) {
	if len(body) < softwareHeaderFixed {
		return SoftwareHeader{}, nil, fmt.Errorf("%w: software frame header truncated", ErrProtocol)
	}
	h := SoftwareHeader{
		Width:  int(binary.BigEndian.Uint32(body[0:])),
		Height: int(binary.BigEndian.Uint32(body[4:])),
		Stride: int(binary.BigEndian.Uint32(body[8:])),
		Format: gputypes.TextureFormat(binary.BigEndian.Uint32(body[12:])),
	}
	n := int(binary.BigEndian.Uint32(body[16:]))
	off := softwareHeaderFixed
	if n < 0 || n > (len(body)-off)/16 {
		return SoftwareHeader{}, nil, fmt.Errorf("%w: %d damage rects do not fit", ErrProtocol, n)
	}
	if n > 0 {
		h.Damage = make([]RectBody, n)
	}
	for i := range h.Damage {
		h.Damage[i] = RectBody{
			X:      int(int32(binary.BigEndian.Uint32(body[off:]))),
			Y:      int(int32(binary.BigEndian.Uint32(body[off+4:]))),
			Width:  int(int32(binary.BigEndian.Uint32(body[off+8:]))),
			Height: int(int32(binary.BigEndian.Uint32(body[off+12:]))),
		}
		off += 16
	}
	pixels := body[off:]
	if h.Width <= 0 || h.Height <= 0 || h.Width > len(pixels) || h.Height > len(pixels) || h.Stride > len(pixels) ||
		h.Stride < h.Width*4 || len(pixels) < h.Stride*(h.Height-1)+h.Width*4 {
		return SoftwareHeader{}, nil, fmt.Errorf("%w: software frame %dx%d stride %d with %d bytes",
			ErrProtocol, h.Width, h.Height, h.Stride, len(pixels))
	}
	return h, pixels, nil
}
