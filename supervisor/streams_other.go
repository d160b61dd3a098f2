// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package supervisor

import (
	"io"
	"os"
	"os/exec"
)

// startWithStreams connects the child through its standard input and
// output. Texture handles are duplicated by process id, so there is no
// separate data stream.
func startWithStreams(cmd *exec.Cmd) (*execProcess, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, control: pipeConn{stdout, stdin}}, nil
}

type pipeConn struct {
	io.ReadCloser
	w io.WriteCloser
}

func (p pipeConn) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p pipeConn) Close() error {
	werr := p.w.Close()
	if err := p.ReadCloser.Close(); err != nil {
		return err
	}
	return werr
}

// EngineStreams returns standard input and output as the control stream.
func EngineStreams() (control, data io.ReadWriteCloser, err error) {
	return pipeConn{os.Stdin, os.Stdout}, nil, nil
}
