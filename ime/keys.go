// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ime

import "github.com/gogpu/gpucontext"

// Event flags carried in the Modifiers field of key, mouse and wheel bodies.
const (
	FlagCapsLock     uint32 = 1 << 0
	FlagShift        uint32 = 1 << 1
	FlagControl      uint32 = 1 << 2
	FlagAlt          uint32 = 1 << 3
	FlagLeftButton   uint32 = 1 << 4
	FlagMiddleButton uint32 = 1 << 5
	FlagRightButton  uint32 = 1 << 6
	FlagCommand      uint32 = 1 << 7
	FlagNumLock      uint32 = 1 << 8
	FlagKeyPad       uint32 = 1 << 9
)

// windowsKeyCodes maps host keys to Windows virtual key codes.
var windowsKeyCodes = map[gpucontext.Key]int{
	gpucontext.KeyA: 0x41, gpucontext.KeyB: 0x42, gpucontext.KeyC: 0x43,
	gpucontext.KeyD: 0x44, gpucontext.KeyE: 0x45, gpucontext.KeyF: 0x46,
	gpucontext.KeyG: 0x47, gpucontext.KeyH: 0x48, gpucontext.KeyI: 0x49,
	gpucontext.KeyJ: 0x4A, gpucontext.KeyK: 0x4B, gpucontext.KeyL: 0x4C,
	gpucontext.KeyM: 0x4D, gpucontext.KeyN: 0x4E, gpucontext.KeyO: 0x4F,
	gpucontext.KeyP: 0x50, gpucontext.KeyQ: 0x51, gpucontext.KeyR: 0x52,
	gpucontext.KeyS: 0x53, gpucontext.KeyT: 0x54, gpucontext.KeyU: 0x55,
	gpucontext.KeyV: 0x56, gpucontext.KeyW: 0x57, gpucontext.KeyX: 0x58,
	gpucontext.KeyY: 0x59, gpucontext.KeyZ: 0x5A,

	gpucontext.Key0: 0x30, gpucontext.Key1: 0x31, gpucontext.Key2: 0x32,
	gpucontext.Key3: 0x33, gpucontext.Key4: 0x34, gpucontext.Key5: 0x35,
	gpucontext.Key6: 0x36, gpucontext.Key7: 0x37, gpucontext.Key8: 0x38,
	gpucontext.Key9: 0x39,

	gpucontext.KeyF1: 0x70, gpucontext.KeyF2: 0x71, gpucontext.KeyF3: 0x72,
	gpucontext.KeyF4: 0x73, gpucontext.KeyF5: 0x74, gpucontext.KeyF6: 0x75,
	gpucontext.KeyF7: 0x76, gpucontext.KeyF8: 0x77, gpucontext.KeyF9: 0x78,
	gpucontext.KeyF10: 0x79, gpucontext.KeyF11: 0x7A, gpucontext.KeyF12: 0x7B,

	gpucontext.KeyEscape:    0x1B,
	gpucontext.KeyTab:       0x09,
	gpucontext.KeyBackspace: 0x08,
	gpucontext.KeyEnter:     0x0D,
	gpucontext.KeySpace:     0x20,
	gpucontext.KeyInsert:    0x2D,
	gpucontext.KeyDelete:    0x2E,
	gpucontext.KeyHome:      0x24,
	gpucontext.KeyEnd:       0x23,
	gpucontext.KeyPageUp:    0x21,
	gpucontext.KeyPageDown:  0x22,
	gpucontext.KeyLeft:      0x25,
	gpucontext.KeyUp:        0x26,
	gpucontext.KeyRight:     0x27,
	gpucontext.KeyDown:      0x28,

	gpucontext.KeyLeftShift:    0xA0,
	gpucontext.KeyRightShift:   0xA1,
	gpucontext.KeyLeftControl:  0xA2,
	gpucontext.KeyRightControl: 0xA3,
	gpucontext.KeyLeftAlt:      0xA4,
	gpucontext.KeyRightAlt:     0xA5,
	gpucontext.KeyLeftSuper:    0x5B,
	gpucontext.KeyRightSuper:   0x5C,

	gpucontext.KeyMinus:        0xBD,
	gpucontext.KeyEqual:        0xBB,
	gpucontext.KeyLeftBracket:  0xDB,
	gpucontext.KeyRightBracket: 0xDD,
	gpucontext.KeyBackslash:    0xDC,
	gpucontext.KeySemicolon:    0xBA,
	gpucontext.KeyApostrophe:   0xDE,
	gpucontext.KeyGrave:        0xC0,
	gpucontext.KeyComma:        0xBC,
	gpucontext.KeyPeriod:       0xBE,
	gpucontext.KeySlash:        0xBF,

	gpucontext.KeyNumpad0: 0x60, gpucontext.KeyNumpad1: 0x61,
	gpucontext.KeyNumpad2: 0x62, gpucontext.KeyNumpad3: 0x63,
	gpucontext.KeyNumpad4: 0x64, gpucontext.KeyNumpad5: 0x65,
	gpucontext.KeyNumpad6: 0x66, gpucontext.KeyNumpad7: 0x67,
	gpucontext.KeyNumpad8: 0x68, gpucontext.KeyNumpad9: 0x69,

	gpucontext.KeyNumpadDecimal:  0x6E,
	gpucontext.KeyNumpadDivide:   0x6F,
	gpucontext.KeyNumpadMultiply: 0x6A,
	gpucontext.KeyNumpadSubtract: 0x6D,
	gpucontext.KeyNumpadAdd:      0x6B,
	gpucontext.KeyNumpadEnter:    0x0D,

	gpucontext.KeyCapsLock:    0x14,
	gpucontext.KeyScrollLock:  0x91,
	gpucontext.KeyNumLock:     0x90,
	gpucontext.KeyPrintScreen: 0x2C,
	gpucontext.KeyPause:       0x13,
}

// WindowsKeyCode returns the Windows virtual key code for k, or 0 for keys
// without one.
func WindowsKeyCode(k gpucontext.Key) int {
	return windowsKeyCodes[k]
}

// controlChar returns the ASCII control character a key produces, or 0.
func controlChar(k gpucontext.Key) uint16 {
	switch k {
	case gpucontext.KeyBackspace:
		return 0x08
	case gpucontext.KeyTab:
		return 0x09
	case gpucontext.KeyEnter, gpucontext.KeyNumpadEnter:
		return 0x0D
	case gpucontext.KeyEscape:
		return 0x1B
	case gpucontext.KeyDelete:
		return 0x7F
	}
	return 0
}

// isNavigation reports arrows, Home, End and the page keys. Their key-up
// events are not forwarded: the engine would act on them a second time.
func isNavigation(k gpucontext.Key) bool {
	switch k {
	case gpucontext.KeyUp, gpucontext.KeyDown, gpucontext.KeyLeft, gpucontext.KeyRight,
		gpucontext.KeyHome, gpucontext.KeyEnd, gpucontext.KeyPageUp, gpucontext.KeyPageDown:
		return true
	}
	return false
}

func isKeypad(k gpucontext.Key) bool {
	return k >= gpucontext.KeyNumpad0 && k <= gpucontext.KeyNumpadEnter
}

// keyFlags converts host modifiers to event flags.
func keyFlags(m gpucontext.Modifiers) uint32 {
	var f uint32
	if m.HasShift() {
		f |= FlagShift
	}
	if m.HasControl() {
		f |= FlagControl
	}
	if m.HasAlt() {
		f |= FlagAlt
	}
	if m.HasSuper() {
		f |= FlagCommand
	}
	if m&gpucontext.ModCapsLock != 0 {
		f |= FlagCapsLock
	}
	if m&gpucontext.ModNumLock != 0 {
		f |= FlagNumLock
	}
	return f
}

// buttonFlags converts held pointer buttons to event flags.
func buttonFlags(b gpucontext.Buttons) uint32 {
	var f uint32
	if b.HasLeft() {
		f |= FlagLeftButton
	}
	if b.HasMiddle() {
		f |= FlagMiddleButton
	}
	if b.HasRight() {
		f |= FlagRightButton
	}
	return f
}
