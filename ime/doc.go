// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package ime forwards host keyboard, pointer, scroll and IME input to an
// embedded engine instance, and relays the engine's caret back to the host.
//
// IME composition follows a two-state machine driven by the engine: an
// editable element gaining focus moves the forwarder from Inactive to
// Composing, losing it moves back. Composition text only flows host to engine
// while Composing, and caret rectangles only reach the host's
// gpucontext.IMEController while Composing. Events that arrive in the wrong
// state, which happens when focus and composition race across the process
// boundary, are dropped rather than reported.
//
// Engine-side events are recorded as they arrive and applied by
// [Forwarder.Pump] on the host's render loop, the latest request winning.
//
// Offsets sent to the engine are UTF-16 code units of NFC-normalized text.
// Keys are sent as Windows virtual key codes, which the engine expects on
// every platform.
package ime
