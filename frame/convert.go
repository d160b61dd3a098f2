// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// SwizzleBGRA swaps the first and third byte of every 4-byte pixel, turning
// BGRA into RGBA and back. dst and src may be the same slice. Only the
// overlapping whole pixels of the two slices are processed.
func SwizzleBGRA(dst, src []byte) {
	n := min(len(dst), len(src)) &^ 3
	for i := 0; i < n; i += 4 {
		b, g, r, a := src[i], src[i+1], src[i+2], src[i+3]
		dst[i], dst[i+1], dst[i+2], dst[i+3] = r, g, b, a
	}
}

// ConvertInPlace rewrites a software frame's pixels into the target byte
// order. Converting to the frame's current format is a no-op.
func ConvertInPlace(f *Frame, target gputypes.TextureFormat) error {
	if f.Software == nil || f.Format == target {
		return nil
	}
	if BytesPerPixel(f.Format) != 4 || BytesPerPixel(target) != 4 {
		return fmt.Errorf("%w: cannot convert %v to %v", ErrInvalidFrame, f.Format, target)
	}
	row := f.Size.Width * 4
	for y := 0; y < f.Size.Height; y++ {
		line := f.Software.Pixels[y*f.Software.Stride : y*f.Software.Stride+row]
		SwizzleBGRA(line, line)
	}
	f.Format = target
	return nil
}
