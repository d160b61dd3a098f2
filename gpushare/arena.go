// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpushare

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ReleaseFunc tells the exporter that the handle with h.Token is no longer
// referenced by the host, so its underlying texture can be reused.
type ReleaseFunc func(h CrossProcessHandle)

// Arena owns every cross-process handle the host currently holds, grouped by
// browser instance. Handles are acquired when they arrive from the engine
// and released exactly once: after import, when superseded by a newer frame,
// or when their instance is torn down.
type Arena struct {
	mu       sync.Mutex
	notify   ReleaseFunc
	closer   func(CrossProcessHandle) error
	slots    map[uuid.UUID]map[uint64]*Slot
	released map[uuid.UUID]struct{}
}

// NewArena creates an arena that calls notify for every released handle.
// notify may be nil.
func NewArena(notify ReleaseFunc) *Arena {
	return &Arena{
		notify:   notify,
		closer:   closeNative,
		slots:    make(map[uuid.UUID]map[uint64]*Slot),
		released: make(map[uuid.UUID]struct{}),
	}
}

// Acquire takes ownership of h. The returned slot must eventually be
// released, either directly or through Exchange.Import.
//
// Acquire fails with ErrImport for invalid handles or a token that is
// already held, and with ErrInstanceReleased when h's instance was torn
// down. In every failure case the native handle is closed before returning.
func (a *Arena) Acquire(h CrossProcessHandle) (*Slot, error) {
	if !h.Valid() {
		a.discard(h, false)
		return nil, fmt.Errorf("%w: invalid handle %s", ErrImport, h)
	}

	a.mu.Lock()
	if _, gone := a.released[h.Instance]; gone {
		a.mu.Unlock()
		a.discard(h, true)
		return nil, ErrInstanceReleased
	}
	m := a.slots[h.Instance]
	if m == nil {
		m = make(map[uint64]*Slot)
		a.slots[h.Instance] = m
	}
	if _, dup := m[h.Token]; dup {
		a.mu.Unlock()
		a.discard(h, false)
		return nil, fmt.Errorf("%w: token %d already held", ErrImport, h.Token)
	}
	s := &Slot{arena: a, h: h}
	m[h.Token] = s
	a.mu.Unlock()
	return s, nil
}

// ReleaseInstance releases every slot of instance id and rejects any handle
// for it that arrives later. It returns the number of slots released.
func (a *Arena) ReleaseInstance(id uuid.UUID) int {
	a.mu.Lock()
	a.released[id] = struct{}{}
	m := a.slots[id]
	delete(a.slots, id)
	a.mu.Unlock()

	for _, s := range m {
		s.Release()
	}
	return len(m)
}

// Forget drops the record that instance id was torn down. Call it once the
// engine confirms the instance is gone and will export nothing more for it.
func (a *Arena) Forget(id uuid.UUID) {
	a.mu.Lock()
	delete(a.released, id)
	a.mu.Unlock()
}

// Reject closes a handle the host will never use and tells the exporter,
// without tracking it.
func (a *Arena) Reject(h CrossProcessHandle) {
	a.discard(h, h.Valid())
}

// Live returns the number of unreleased slots held for instance id.
func (a *Arena) Live(id uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots[id])
}

func (a *Arena) discard(h CrossProcessHandle, notify bool) {
	if err := a.closer(h); err != nil {
		slogger().Warn("gpushare: closing handle failed", "handle", h.String(), "err", err)
	}
	if notify && a.notify != nil {
		a.notify(h)
	}
}

// Slot is the host's ownership record for one cross-process handle.
type Slot struct {
	arena    *Arena
	h        CrossProcessHandle
	done     atomic.Bool
	consumed atomic.Bool
}

// Handle returns the handle the slot owns.
func (s *Slot) Handle() CrossProcessHandle {
	return s.h
}

// Released reports whether the slot has been released.
func (s *Slot) Released() bool {
	return s.done.Load()
}

// Release closes the native handle and notifies the exporter. Idempotent.
func (s *Slot) Release() {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	a := s.arena
	a.mu.Lock()
	if m := a.slots[s.h.Instance]; m != nil && m[s.h.Token] == s {
		delete(m, s.h.Token)
		if len(m) == 0 {
			delete(a.slots, s.h.Instance)
		}
	}
	a.mu.Unlock()
	a.discard(s.h, true)
}

// consume marks the slot as imported. Only the first call returns true.
func (s *Slot) consume() bool {
	return s.consumed.CompareAndSwap(false, true)
}
