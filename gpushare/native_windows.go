// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package gpushare

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// closeNative closes the host-side OS resource behind h.
func closeNative(h CrossProcessHandle) error {
	if h.Kind != HandleNT {
		return nil
	}
	if err := windows.CloseHandle(windows.Handle(h.Value)); err != nil {
		return fmt.Errorf("gpushare: close handle %#x: %w", h.Value, err)
	}
	return nil
}

// Adopt duplicates an NT handle owned by process pid into the host process,
// closing the source so ownership moves rather than being shared.
func Adopt(pid int, h CrossProcessHandle) (CrossProcessHandle, error) {
	if h.Kind != HandleNT {
		return CrossProcessHandle{}, fmt.Errorf("%w: %s handles are not supported on this platform", ErrImport, h.Kind)
	}
	src, err := windows.OpenProcess(windows.PROCESS_DUP_HANDLE, false, uint32(pid))
	if err != nil {
		return CrossProcessHandle{}, fmt.Errorf("%w: open process %d: %v", ErrImport, pid, err)
	}
	defer windows.CloseHandle(src)

	var dup windows.Handle
	err = windows.DuplicateHandle(src, windows.Handle(h.Value), windows.CurrentProcess(), &dup,
		0, false, windows.DUPLICATE_SAME_ACCESS|windows.DUPLICATE_CLOSE_SOURCE)
	if err != nil {
		return CrossProcessHandle{}, fmt.Errorf("%w: duplicate handle: %v", ErrImport, err)
	}
	h.Value = uintptr(dup)
	return h, nil
}
