// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// LetterboxRect returns the largest rectangle with the aspect ratio of src
// that fits centered inside target.
func LetterboxRect(src, target Size) Rect {
	if src.Empty() || target.Empty() {
		return Rect{}
	}
	w := target.Width
	h := src.Height * target.Width / src.Width
	if h > target.Height {
		h = target.Height
		w = src.Width * target.Height / src.Height
	}
	w, h = max(w, 1), max(h, 1)
	return Rect{
		X:      (target.Width - w) / 2,
		Y:      (target.Height - h) / 2,
		Width:  w,
		Height: h,
	}
}

// Letterbox rescales a software frame to the target size, preserving its
// aspect ratio and filling the bars with transparent pixels. The result is a
// new tightly packed frame with the same Seq and Format drawn from ring (or
// freshly allocated when ring is nil).
//
// The scaler treats pixels as four independent 8-bit channels, so BGRA and
// RGBA frames scale identically.
func Letterbox(src *Frame, target Size, ring *Ring) *Frame {
	if src == nil || src.Software == nil || target.Empty() || BytesPerPixel(src.Format) != 4 {
		return nil
	}

	var out *Frame
	if ring != nil {
		out = ring.NewFrame(src.Seq, target, src.Format)
		clear(out.Software.Pixels)
	} else {
		stride := target.Width * 4
		out = NewSoftware(src.Seq, target, src.Format, stride, make([]byte, stride*target.Height), nil)
	}

	srcImg := &image.RGBA{
		Pix:    src.Software.Pixels,
		Stride: src.Software.Stride,
		Rect:   image.Rect(0, 0, src.Size.Width, src.Size.Height),
	}
	dstImg := &image.RGBA{
		Pix:    out.Software.Pixels,
		Stride: out.Software.Stride,
		Rect:   image.Rect(0, 0, target.Width, target.Height),
	}
	box := LetterboxRect(src.Size, target)
	xdraw.ApproxBiLinear.Scale(dstImg, box.Image(), srcImg, srcImg.Bounds(), xdraw.Src, nil)
	return out
}
