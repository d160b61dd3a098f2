// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import "errors"

var (
	// ErrChannelClosed is returned by sends on a closed channel or
	// connection, typically after the engine process exited or crashed.
	ErrChannelClosed = errors.New("ipc: channel closed")

	// ErrProtocol reports a malformed frame, an unexpected message, or a
	// sequence gap or duplicate.
	ErrProtocol = errors.New("ipc: protocol error")

	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("ipc: frame too large")

	// ErrHandlePassing is returned when a message carries file descriptors
	// over a stream that cannot transfer them.
	ErrHandlePassing = errors.New("ipc: handle passing unsupported")
)
