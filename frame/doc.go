// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package frame defines the frames an embedded browser engine delivers to the
// host and the CPU-side machinery of the software path.
//
// A [Frame] is a tagged union: it carries either software pixels copied out of
// the engine process, an accelerated cross-process texture handle, or nothing
// at all (the "unavailable" placeholder shown after a crash). Exactly one frame
// is current per browser instance; the previous one is released once a newer
// frame is adopted.
//
// # Software path
//
// Software frames are backed by buffers borrowed from a [Ring]. Releasing a
// frame returns its buffer to the ring so steady-state delivery does not
// allocate. The package also provides the pixel utilities the software path
// needs:
//
//   - [SwizzleBGRA] converts between BGRA and RGBA byte orders
//   - [CompositePopup] blits popup widgets (select dropdowns) over a frame
//   - [Damage] accumulates dirty rectangles between host uploads
//   - [Letterbox] rescales a held frame to a new target size on resize
//
// # Thread Safety
//
// Frame values may be handed between goroutines. Release is idempotent and
// safe to call concurrently. Ring and Damage are safe for concurrent use.
package frame
