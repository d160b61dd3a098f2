// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package profile owns the per-user data directory handed to the engine.
// Two engines writing one profile corrupt its cache and cookie stores, so
// a Dir holds an exclusive lock file until it is released.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockName is the lock file created inside the data directory.
const LockName = ".webtex.lock"

// ErrInUse reports that another process holds the data directory.
var ErrInUse = errors.New("profile: data directory in use")

// Dir is a locked data directory.
type Dir struct {
	path string
	lock *os.File
}

// Open creates path if needed and locks it. It fails with ErrInUse when the
// directory is locked by another process or another Dir in this process.
func Open(path string) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("profile: resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("profile: create %s: %w", abs, err)
	}
	f, err := os.OpenFile(filepath.Join(abs, LockName), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("profile: open lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, errLocked) {
			return nil, fmt.Errorf("%w: %s", ErrInUse, abs)
		}
		return nil, fmt.Errorf("profile: lock %s: %w", abs, err)
	}

	// The pid is informational only.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Dir{path: abs, lock: f}, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Join returns a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Release unlocks the directory. It is idempotent.
func (d *Dir) Release() error {
	if d == nil || d.lock == nil {
		return nil
	}
	f := d.lock
	d.lock = nil
	return errors.Join(unlockFile(f), f.Close())
}
