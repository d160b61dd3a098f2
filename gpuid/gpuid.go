// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpuid identifies the physical GPU the host renders on, so the
// browser engine can be launched on the same adapter.
//
// Shared textures can only be imported on the adapter that created them.
// On multi-GPU systems the engine would otherwise pick its own default
// adapter, and every accelerated frame would fail the adapter check.
package gpuid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Launch switches understood by the engine.
const (
	FlagVendorID = "--gpu-vendor-id"
	FlagDeviceID = "--gpu-device-id"
	FlagLUID     = "--gpu-luid"
)

// Identity names one physical adapter.
type Identity struct {
	VendorID uint32
	DeviceID uint32

	// LUID is the low-level adapter identity: an 8-byte LUID on Windows or a
	// 16-byte device UUID elsewhere. May be empty.
	LUID []byte

	Name       string
	DeviceType gputypes.DeviceType
	Backend    gputypes.Backend
}

// Key returns the bytes used to compare adapters across processes: the LUID
// when known, otherwise the PCI vendor and device ids.
func (id Identity) Key() []byte {
	if len(id.LUID) > 0 {
		return append([]byte(nil), id.LUID...)
	}
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], id.VendorID)
	binary.BigEndian.PutUint32(b[4:], id.DeviceID)
	return b[:]
}

func (id Identity) String() string {
	s := fmt.Sprintf("%04x:%04x", id.VendorID, id.DeviceID)
	if id.Name != "" {
		s += " (" + id.Name + ")"
	}
	return s
}

// LaunchArgs returns the engine command-line switches pinning it to id.
func (id Identity) LaunchArgs() []string {
	args := []string{
		fmt.Sprintf("%s=0x%04x", FlagVendorID, id.VendorID),
		fmt.Sprintf("%s=0x%04x", FlagDeviceID, id.DeviceID),
	}
	if len(id.LUID) > 0 {
		args = append(args, FlagLUID+"="+hex.EncodeToString(id.LUID))
	}
	return args
}

// ParseLaunchArgs extracts an identity from engine command-line switches.
// It reports false when no vendor id is present.
func ParseLaunchArgs(args []string) (Identity, bool) {
	var id Identity
	var found bool
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch name {
		case FlagVendorID:
			v, err := strconv.ParseUint(value, 0, 32)
			if err == nil {
				id.VendorID = uint32(v)
				found = true
			}
		case FlagDeviceID:
			if v, err := strconv.ParseUint(value, 0, 32); err == nil {
				id.DeviceID = uint32(v)
			}
		case FlagLUID:
			if b, err := hex.DecodeString(value); err == nil {
				id.LUID = b
			}
		}
	}
	return id, found
}

// Adapter describes one physical adapter as reported by the host backend.
type Adapter struct {
	Info gputypes.AdapterInfo
	LUID []byte
}

// Source reports the host's adapters.
type Source interface {
	// Selected returns the adapter the host device was actually created on.
	Selected() (Adapter, error)

	// Count returns the number of physical adapters in the system.
	Count() (int, error)
}

// StaticSource is a Source over a fixed adapter list.
type StaticSource struct {
	Adapters []Adapter
	Index    int
}

// Selected returns Adapters[Index].
func (s StaticSource) Selected() (Adapter, error) {
	if s.Index < 0 || s.Index >= len(s.Adapters) {
		return Adapter{}, fmt.Errorf("gpuid: selected adapter %d out of %d", s.Index, len(s.Adapters))
	}
	return s.Adapters[s.Index], nil
}

// Count returns len(Adapters).
func (s StaticSource) Count() (int, error) {
	return len(s.Adapters), nil
}

// ProviderSource reads the adapter behind a host gpucontext.DeviceProvider.
// Describe resolves the provider's opaque adapter into PCI ids and LUID,
// which only the host's backend can do.
type ProviderSource struct {
	Provider  gpucontext.DeviceProvider
	Describe  func(gpucontext.Adapter) (Adapter, error)
	Enumerate func() ([]Adapter, error)
}

// Selected describes Provider.Adapter().
func (s ProviderSource) Selected() (Adapter, error) {
	if s.Provider == nil || s.Describe == nil {
		return Adapter{}, fmt.Errorf("gpuid: provider source not configured")
	}
	a, err := s.Describe(s.Provider.Adapter())
	if err != nil {
		return Adapter{}, fmt.Errorf("gpuid: describe adapter: %w", err)
	}
	if a.Info.Name == "" {
		a.Info.Name = s.Provider.AdapterInfo().Name
	}
	return a, nil
}

// Count enumerates adapters, treating a missing enumerator as one adapter.
func (s ProviderSource) Count() (int, error) {
	if s.Enumerate == nil {
		return 1, nil
	}
	all, err := s.Enumerate()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Matcher caches the host adapter identity until invalidated.
type Matcher struct {
	src Source

	mu      sync.Mutex
	queried bool
	id      Identity
	ok      bool
}

// NewMatcher creates a matcher over src.
func NewMatcher(src Source) *Matcher {
	return &Matcher{src: src}
}

// Identify returns the identity of the host's selected adapter. It reports
// false when pinning is meaningless: a single adapter, a software adapter,
// or a source that cannot tell. None of those are errors.
func (m *Matcher) Identify() (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queried {
		return m.id, m.ok
	}
	m.queried = true
	m.id, m.ok = m.query()
	if m.ok {
		slogger().Info("gpuid: host adapter identified", "adapter", m.id.String(), "backend", m.id.Backend)
	}
	return m.id, m.ok
}

func (m *Matcher) query() (Identity, bool) {
	if m.src == nil {
		return Identity{}, false
	}
	n, err := m.src.Count()
	if err != nil {
		slogger().Warn("gpuid: cannot enumerate adapters", "err", err)
		return Identity{}, false
	}
	if n <= 1 {
		slogger().Debug("gpuid: single adapter, not pinning")
		return Identity{}, false
	}
	a, err := m.src.Selected()
	if err != nil {
		slogger().Warn("gpuid: cannot read selected adapter", "err", err)
		return Identity{}, false
	}
	if a.Info.DeviceType == gputypes.DeviceTypeCPU || a.Info.VendorID == 0 {
		return Identity{}, false
	}
	return Identity{
		VendorID:   a.Info.VendorID,
		DeviceID:   a.Info.DeviceID,
		LUID:       append([]byte(nil), a.LUID...),
		Name:       a.Info.Name,
		DeviceType: a.Info.DeviceType,
		Backend:    a.Info.Backend,
	}, true
}

// Invalidate forgets the cached identity. Call it on device-lost or driver
// change; the next Identify queries the source again.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.queried = false
	m.id, m.ok = Identity{}, false
	m.mu.Unlock()
}
