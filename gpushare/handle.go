// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpushare

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

// HandleKind identifies the OS mechanism behind a CrossProcessHandle.
type HandleKind uint8

const (
	// HandleNone marks an empty handle.
	HandleNone HandleKind = iota

	// HandleNT is a Win32 NT handle to a shared D3D texture. It is valid in
	// the exporting process until duplicated into the host with Adopt.
	HandleNT

	// HandleFD is a POSIX file descriptor to a DMA-BUF. It arrives in the
	// host as SCM_RIGHTS ancillary data and is already owned by the host.
	HandleFD

	// HandleIOSurface is a global IOSurface id. It owns no host-side OS
	// resource; the exporter keeps the surface alive until released.
	HandleIOSurface
)

func (k HandleKind) String() string {
	switch k {
	case HandleNT:
		return "nt-handle"
	case HandleFD:
		return "fd"
	case HandleIOSurface:
		return "iosurface"
	default:
		return "none"
	}
}

// SyncKind identifies how the importer waits for the exporter's GPU work.
type SyncKind uint8

const (
	// SyncNone means no synchronization was provided. Importers reject it.
	SyncNone SyncKind = iota

	// SyncFence is a monotonically increasing fence or timeline semaphore
	// value the exporter signals when rendering into the texture finished.
	SyncFence

	// SyncKeyedMutex is a DXGI keyed mutex acquire key.
	SyncKeyedMutex

	// SyncImplicit means the kernel driver synchronizes implicitly
	// (DMA-BUF reservation objects). Value is unused.
	SyncImplicit
)

// SyncToken accompanies every handle so the importer never samples a texture
// before the exporter's GPU work finished.
type SyncToken struct {
	Kind  SyncKind
	Value uint64
}

// Valid reports whether the token can be waited on.
func (s SyncToken) Valid() bool {
	switch s.Kind {
	case SyncImplicit:
		return true
	case SyncFence, SyncKeyedMutex:
		return s.Value != 0
	default:
		return false
	}
}

// CrossProcessHandle references a GPU texture created by another process.
type CrossProcessHandle struct {
	Kind  HandleKind
	Value uintptr

	// Token is assigned by the exporter, unique and strictly increasing per
	// instance. It names the handle in release notifications.
	Token uint64

	// Instance is the browser instance the texture belongs to.
	Instance uuid.UUID

	Width  uint32
	Height uint32
	Format gputypes.TextureFormat

	// Stride, Offset and Modifier describe DMA-BUF plane layout.
	Stride   uint32
	Offset   uint64
	Modifier uint64

	// Adapter is the low-level identity (LUID or device UUID) of the
	// physical adapter that created the texture. Empty when unknown.
	Adapter []byte

	Sync SyncToken
}

// Valid reports whether the handle carries a usable OS token and geometry.
func (h CrossProcessHandle) Valid() bool {
	return h.Kind != HandleNone && h.Width > 0 && h.Height > 0 && h.Token != 0
}

func (h CrossProcessHandle) String() string {
	return fmt.Sprintf("%s#%d(%dx%d %v)", h.Kind, h.Token, h.Width, h.Height, h.Format)
}
