// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bridge

import "errors"

var (
	// ErrInvalidSize is returned by Resize for an empty size.
	ErrInvalidSize = errors.New("bridge: invalid size")

	// ErrDetached is returned when using an instance after Detach.
	ErrDetached = errors.New("bridge: instance detached")

	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("bridge: publisher closed")

	// ErrNoCreator is returned when a texture must be created but no
	// gpucontext.TextureCreator was supplied.
	ErrNoCreator = errors.New("bridge: texture creator required")

	// ErrNotDrawable is returned when an imported texture is not a
	// gpucontext.Texture.
	ErrNotDrawable = errors.New("bridge: imported texture is not drawable")

	// ErrUnsupportedFormat is returned when software pixels are not RGBA.
	ErrUnsupportedFormat = errors.New("bridge: unsupported pixel format")
)
