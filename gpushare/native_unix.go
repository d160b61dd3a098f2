// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build unix

package gpushare

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// closeNative closes the host-side OS resource behind h.
func closeNative(h CrossProcessHandle) error {
	if h.Kind != HandleFD {
		return nil
	}
	if err := unix.Close(int(h.Value)); err != nil {
		return fmt.Errorf("gpushare: close fd %d: %w", h.Value, err)
	}
	return nil
}

// Adopt makes h valid in the host process. File descriptors arrive through
// SCM_RIGHTS already installed in the host's table, so there is nothing to do.
func Adopt(_ int, h CrossProcessHandle) (CrossProcessHandle, error) {
	if h.Kind == HandleNT {
		return CrossProcessHandle{}, fmt.Errorf("%w: %s handles are not supported on this platform", ErrImport, h.Kind)
	}
	return h, nil
}
