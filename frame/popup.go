// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

// Popup is a separately rendered widget (select dropdown, autocomplete list)
// positioned over the main view. Pixels are tightly packed in the same format
// as the frame they are composited onto.
type Popup struct {
	Pixels []byte
	Size   Size

	// X and Y are the popup origin in frame pixels. They may be negative.
	X, Y int
}

// CompositePopup copies the visible part of p into the software frame dst,
// clipped to the frame bounds, and returns the rectangle that was written.
// Rows whose source or destination would overrun their buffer are skipped.
func CompositePopup(dst *Frame, p Popup) Rect {
	if dst == nil || dst.Software == nil || p.Size.Empty() {
		return Rect{}
	}
	bpp := BytesPerPixel(dst.Format)
	if bpp == 0 {
		return Rect{}
	}

	view := Rect{Width: dst.Size.Width, Height: dst.Size.Height}
	area := Rect{X: p.X, Y: p.Y, Width: p.Size.Width, Height: p.Size.Height}.Intersect(view)
	if area.Empty() {
		return Rect{}
	}

	skipX := area.X - p.X
	skipY := area.Y - p.Y
	rowBytes := area.Width * bpp
	srcStride := p.Size.Width * bpp
	dstStride := dst.Software.Stride

	for row := 0; row < area.Height; row++ {
		src := (skipY+row)*srcStride + skipX*bpp
		dstOff := (area.Y+row)*dstStride + area.X*bpp
		if src+rowBytes > len(p.Pixels) || dstOff+rowBytes > len(dst.Software.Pixels) {
			continue
		}
		copy(dst.Software.Pixels[dstOff:dstOff+rowBytes], p.Pixels[src:src+rowBytes])
	}
	return area
}
