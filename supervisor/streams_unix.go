// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build unix

package supervisor

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// startWithStreams connects the child through two unix socket pairs passed
// as descriptors 3 (control) and 4 (data).
func startWithStreams(cmd *exec.Cmd) (*execProcess, error) {
	control, childControl, err := socketPair("control")
	if err != nil {
		return nil, err
	}
	data, childData, err := socketPair("data")
	if err != nil {
		control.Close()
		childControl.Close()
		return nil, err
	}

	cmd.ExtraFiles = []*os.File{childControl, childData}
	cmd.Env = append(cmd.Env, EnvControlFD+"=3", EnvDataFD+"=4")
	err = cmd.Start()
	childControl.Close()
	childData.Close()
	if err != nil {
		control.Close()
		data.Close()
		return nil, err
	}
	return &execProcess{cmd: cmd, control: control, data: data}, nil
}

func socketPair(name string) (*net.UnixConn, *os.File, error) {
	// Hold off concurrent forks until the pair is close-on-exec.
	syscall.ForkLock.RLock()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fds[0])
		unix.CloseOnExec(fds[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair %s: %w", name, err)
	}
	parent := os.NewFile(uintptr(fds[0]), name)
	defer parent.Close()
	conn, err := net.FileConn(parent)
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("socketpair %s: %w", name, err)
	}
	return conn.(*net.UnixConn), os.NewFile(uintptr(fds[1]), name+"-child"), nil
}

// EngineStreams returns the control and data streams inside an engine
// process started by ExecLauncher.
func EngineStreams() (control, data io.ReadWriteCloser, err error) {
	control, err = inheritedConn(EnvControlFD)
	if err != nil {
		return nil, nil, err
	}
	data, err = inheritedConn(EnvDataFD)
	if err != nil {
		control.Close()
		return nil, nil, err
	}
	return control, data, nil
}

func inheritedConn(env string) (*net.UnixConn, error) {
	v := os.Getenv(env)
	if v == "" {
		return nil, fmt.Errorf("supervisor: %s not set", env)
	}
	fd, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %s=%q: %w", env, v, err)
	}
	f := os.NewFile(uintptr(fd), env)
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %s: %w", env, err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("supervisor: %s is not a unix socket", env)
	}
	return uc, nil
}
