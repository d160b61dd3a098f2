// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn is returned when the engine process cannot be started. It is
	// fatal for the instances that wanted the process.
	ErrSpawn = errors.New("supervisor: spawn failed")

	// ErrShutdownTimeout is returned when the process did not exit within
	// the shutdown timeout and was killed.
	ErrShutdownTimeout = errors.New("supervisor: shutdown timed out")

	// ErrState is returned for operations invalid in the current state.
	ErrState = errors.New("supervisor: invalid state")
)

// State is the lifecycle state of a supervised process.
type State uint8

const (
	StateNotStarted State = iota
	StateLaunching
	StateRunning
	StateCrashed
	StateExiting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateExiting:
		return "exiting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// canTransition reports whether from -> to is an edge of the lifecycle.
func canTransition(from, to State) bool {
	switch from {
	case StateNotStarted:
		return to == StateLaunching
	case StateLaunching:
		return to == StateRunning || to == StateTerminated
	case StateRunning:
		return to == StateCrashed || to == StateExiting
	case StateCrashed, StateExiting:
		return to == StateTerminated
	default:
		return false
	}
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code int

	// Desc is the platform description, e.g. "exit status 3" or
	// "signal: killed".
	Desc string
}

// Clean reports a zero exit code.
func (e ExitStatus) Clean() bool {
	return e.Code == 0
}

func (e ExitStatus) String() string {
	if e.Desc != "" {
		return e.Desc
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Transition is delivered to observers on every state change.
type Transition struct {
	From State
	To   State
	PID  int
	Exit ExitStatus
	Err  error
}
