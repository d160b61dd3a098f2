// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package enginetest provides an in-process fake browser engine speaking the
// ipc protocol.
//
// An [Engine] answers the handshake, creates and destroys instances,
// renders software frames of a known pixel pattern (see [Pixel]) and, when
// the host asks for the accelerated path, exports fake GPU textures through
// a [gpushare.Exporter]. Tests drive the engine side directly: paint a
// frame, send channel messages, report editable focus and caret moves,
// show a popup, or crash.
//
// A [Launcher] plugs engines into a supervisor:
//
//	l := enginetest.NewLauncher(enginetest.Config{AutoPaint: true})
//	core, err := webtex.New(webtex.WithLauncher(l))
//	...
//	eng := l.Last()
//	eng.SendText(id, "hello")
package enginetest
