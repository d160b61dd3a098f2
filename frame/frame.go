// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/webtex/gpushare"
)

// ErrInvalidFrame is returned when a frame's geometry or pixel data is
// inconsistent (zero size, short buffer, stride narrower than a row).
var ErrInvalidFrame = errors.New("frame: invalid frame")

// Kind identifies which variant of the Frame union is populated.
type Kind uint8

const (
	// KindUnavailable is the placeholder shown when the engine process is gone.
	KindUnavailable Kind = iota

	// KindSoftware frames carry CPU pixels.
	KindSoftware

	// KindAccelerated frames carry a cross-process GPU texture handle.
	KindAccelerated
)

func (k Kind) String() string {
	switch k {
	case KindSoftware:
		return "software"
	case KindAccelerated:
		return "accelerated"
	default:
		return "unavailable"
	}
}

// Software is the payload of a software-path frame.
type Software struct {
	// Stride is the number of bytes per row. It may exceed Width*4.
	Stride int

	// Pixels holds Height rows of Stride bytes.
	Pixels []byte

	// Damage lists the regions that changed since the previous frame.
	// An empty list means the whole frame changed.
	Damage []Rect
}

// Accelerated is the payload of an accelerated-path frame. The slot owns the
// native handle until the frame is imported or released.
type Accelerated struct {
	Slot *gpushare.Slot
}

// Handle returns the cross-process handle held by the frame's slot.
func (a *Accelerated) Handle() gpushare.CrossProcessHandle {
	return a.Slot.Handle()
}

// Frame is one rendered frame of a browser instance.
//
// Exactly one of Software and Accelerated is non-nil, unless the frame is
// the unavailable placeholder, in which case both are nil.
type Frame struct {
	// Seq is the engine-assigned freshness counter. Larger is newer.
	Seq uint64

	// Size is the frame size in physical pixels.
	Size Size

	// Format is the pixel format of Software pixels or of the shared texture.
	Format gputypes.TextureFormat

	Software    *Software
	Accelerated *Accelerated

	release  func()
	released atomic.Bool
}

// NewSoftware creates a software frame. release, if non-nil, is called once
// when the frame is released (typically returning the buffer to a Ring).
func NewSoftware(seq uint64, size Size, format gputypes.TextureFormat, stride int, pixels []byte, release func()) *Frame {
	return &Frame{
		Seq:      seq,
		Size:     size,
		Format:   format,
		Software: &Software{Stride: stride, Pixels: pixels},
		release:  release,
	}
}

// NewAccelerated creates an accelerated frame around a handle slot.
// Releasing the frame releases the slot.
func NewAccelerated(seq uint64, slot *gpushare.Slot) *Frame {
	h := slot.Handle()
	return &Frame{
		Seq:         seq,
		Size:        Size{Width: int(h.Width), Height: int(h.Height)},
		Format:      h.Format,
		Accelerated: &Accelerated{Slot: slot},
		release:     slot.Release,
	}
}

// Unavailable returns the placeholder frame for an instance whose engine
// process is gone. It keeps the last known size so the host layout is stable.
func Unavailable(size Size) *Frame {
	return &Frame{Size: size, Format: gputypes.TextureFormatUndefined}
}

// Kind reports which variant the frame holds.
func (f *Frame) Kind() Kind {
	switch {
	case f.Software != nil:
		return KindSoftware
	case f.Accelerated != nil:
		return KindAccelerated
	default:
		return KindUnavailable
	}
}

// Release gives the frame's resources back to their owner. It is idempotent.
func (f *Frame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.release != nil {
		f.release()
	}
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Validate checks that the frame's geometry is usable by the host.
func (f *Frame) Validate() error {
	if f.Size.Empty() {
		return fmt.Errorf("%w: size %s", ErrInvalidFrame, f.Size)
	}
	if f.Software == nil {
		return nil
	}
	bpp := BytesPerPixel(f.Format)
	if bpp == 0 {
		return fmt.Errorf("%w: unsupported software format %v", ErrInvalidFrame, f.Format)
	}
	if f.Software.Stride < f.Size.Width*bpp {
		return fmt.Errorf("%w: stride %d < row %d", ErrInvalidFrame, f.Software.Stride, f.Size.Width*bpp)
	}
	need := f.Software.Stride*(f.Size.Height-1) + f.Size.Width*bpp
	if len(f.Software.Pixels) < need {
		return fmt.Errorf("%w: %d bytes, need %d", ErrInvalidFrame, len(f.Software.Pixels), need)
	}
	return nil
}

// Tight returns the software pixels packed with stride Width*4.
// When the frame is already tightly packed the pixel slice is returned as is.
func (f *Frame) Tight() []byte {
	if f.Software == nil {
		return nil
	}
	row := f.Size.Width * BytesPerPixel(f.Format)
	if f.Software.Stride == row {
		return f.Software.Pixels[:row*f.Size.Height]
	}
	out := make([]byte, row*f.Size.Height)
	for y := 0; y < f.Size.Height; y++ {
		copy(out[y*row:(y+1)*row], f.Software.Pixels[y*f.Software.Stride:])
	}
	return out
}

// BytesPerPixel returns the byte width of the 8-bit color formats used on the
// software path, or 0 for formats the software path does not handle.
func BytesPerPixel(format gputypes.TextureFormat) int {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}
