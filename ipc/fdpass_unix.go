// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build unix

package ipc

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// maxFDsPerRead bounds the ancillary buffer of one read.
const maxFDsPerRead = 16

type fdReader interface {
	io.Reader
	takeFDs() []int
}

// newFDReader reads through ReadMsgUnix on unix sockets so SCM_RIGHTS
// descriptors are never discarded by a plain read.
func newFDReader(r io.Reader) fdReader {
	if uc, ok := r.(*net.UnixConn); ok {
		return &rightsReader{conn: uc, oob: make([]byte, unix.CmsgSpace(maxFDsPerRead*4))}
	}
	return plainReader{r}
}

type plainReader struct {
	io.Reader
}

func (plainReader) takeFDs() []int { return nil }

type rightsReader struct {
	conn *net.UnixConn
	oob  []byte
	fds  []int
}

func (r *rightsReader) Read(p []byte) (int, error) {
	n, oobn, _, _, err := r.conn.ReadMsgUnix(p, r.oob)
	if oobn > 0 {
		fds, perr := parseRights(r.oob[:oobn])
		r.fds = append(r.fds, fds...)
		if perr != nil && err == nil {
			err = perr
		}
	}
	return n, err
}

func (r *rightsReader) takeFDs() []int {
	fds := r.fds
	r.fds = nil
	return fds
}

func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("%w: control message: %w", ErrProtocol, err)
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// writeWithFDs writes buf in one sendmsg with fds attached.
func writeWithFDs(w io.Writer, buf []byte, fds []int) error {
	uc, ok := w.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("%w: %T", ErrHandlePassing, w)
	}
	n, _, err := uc.WriteMsgUnix(buf, unix.UnixRights(fds...), nil)
	if err != nil {
		return err
	}
	if n < len(buf) {
		_, err = uc.Write(buf[n:])
	}
	return err
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		if err := unix.Close(fd); err != nil {
			slogger().Debug("ipc: close fd", "fd", fd, "err", err)
		}
	}
}

// DupFD duplicates fd so the caller keeps its copy after sending.
func DupFD(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, fmt.Errorf("ipc: dup fd %d: %w", fd, err)
	}
	return nfd, nil
}
