// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"fmt"
	"image"
	"math"
)

// Size is a width/height pair in physical pixels.
type Size struct {
	Width  int
	Height int
}

// Empty reports whether either dimension is zero or negative.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Scale converts a logical size to physical pixels for the given device scale
// factor. Non-empty sizes never scale below 1x1.
func (s Size) Scale(factor float64) Size {
	if factor <= 0 {
		factor = 1
	}
	out := Size{
		Width:  int(math.Round(float64(s.Width) * factor)),
		Height: int(math.Round(float64(s.Height) * factor)),
	}
	if !s.Empty() {
		out.Width = max(out.Width, 1)
		out.Height = max(out.Height, 1)
	}
	return out
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Rect is an axis-aligned rectangle in pixel coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Image returns the rectangle as an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Intersect returns the largest rectangle contained by both r and o.
func (r Rect) Intersect(o Rect) Rect {
	return rectFromImage(r.Image().Intersect(o.Image()))
}

// Union returns the smallest rectangle containing both r and o.
// An empty rectangle does not contribute to the union.
func (r Rect) Union(o Rect) Rect {
	switch {
	case r.Empty():
		return o
	case o.Empty():
		return r
	}
	return rectFromImage(r.Image().Union(o.Image()))
}

func rectFromImage(ir image.Rectangle) Rect {
	if ir.Empty() {
		return Rect{}
	}
	return Rect{X: ir.Min.X, Y: ir.Min.Y, Width: ir.Dx(), Height: ir.Dy()}
}
