// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package ipc

import (
	"fmt"
	"io"
)

type fdReader interface {
	io.Reader
	takeFDs() []int
}

// Handles are duplicated into the host by process id on these platforms,
// so the stream never carries descriptors.
func newFDReader(r io.Reader) fdReader {
	return plainReader{r}
}

type plainReader struct {
	io.Reader
}

func (plainReader) takeFDs() []int { return nil }

func writeWithFDs(w io.Writer, _ []byte, _ []int) error {
	return fmt.Errorf("%w: %T", ErrHandlePassing, w)
}

func closeFDs([]int) {}

// DupFD is not supported on this platform.
func DupFD(fd int) (int, error) {
	return -1, fmt.Errorf("%w: dup fd %d", ErrHandlePassing, fd)
}
