// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !unix && !windows

package gpushare

import "fmt"

func closeNative(CrossProcessHandle) error { return nil }

// Adopt reports that no cross-process handle kind is available here.
func Adopt(_ int, h CrossProcessHandle) (CrossProcessHandle, error) {
	return CrossProcessHandle{}, fmt.Errorf("%w: %s handles are not supported on this platform", ErrImport, h.Kind)
}
