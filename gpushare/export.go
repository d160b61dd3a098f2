// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpushare

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

// DefaultPoolLimit bounds the handles an Exporter keeps outstanding per
// instance before it refuses to export more.
const DefaultPoolLimit = 4

// LocalTexture is a texture owned by the exporting process.
type LocalTexture interface {
	// ID identifies the texture within the exporter.
	ID() uint64
	Width() uint32
	Height() uint32
	Format() gputypes.TextureFormat
}

// ExportFunc creates the OS handle for tex and a sync token the importer
// must wait on.
type ExportFunc func(tex LocalTexture) (kind HandleKind, value uintptr, sync SyncToken, err error)

type exported struct {
	instance uuid.UUID
	texture  uint64
}

// Exporter is the producing side of the GPU handle exchange. It lives in the
// engine process and tracks which textures are still referenced by the host.
type Exporter struct {
	mu      sync.Mutex
	adapter []byte
	limit   int
	export  ExportFunc
	token   uint64
	live    map[uint64]exported
	busy    map[uint64]uint64
	count   map[uuid.UUID]int
}

// NewExporter creates an exporter for textures created on adapter.
// A limit <= 0 selects DefaultPoolLimit.
func NewExporter(adapter []byte, limit int, fn ExportFunc) *Exporter {
	if limit <= 0 {
		limit = DefaultPoolLimit
	}
	return &Exporter{
		adapter: bytes.Clone(adapter),
		limit:   limit,
		export:  fn,
		live:    make(map[uint64]exported),
		busy:    make(map[uint64]uint64),
		count:   make(map[uuid.UUID]int),
	}
}

// Export creates a cross-process handle for tex on behalf of instance.
//
// It fails with ErrResourceBusy when tex already has an unreleased handle
// and with ErrPoolExhausted when instance holds limit unreleased handles.
func (x *Exporter) Export(instance uuid.UUID, tex LocalTexture) (CrossProcessHandle, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if tok, ok := x.busy[tex.ID()]; ok {
		return CrossProcessHandle{}, fmt.Errorf("%w: texture %d held by token %d", ErrResourceBusy, tex.ID(), tok)
	}
	if x.count[instance] >= x.limit {
		return CrossProcessHandle{}, fmt.Errorf("%w: %d handles outstanding", ErrPoolExhausted, x.count[instance])
	}

	kind, value, sync, err := x.export(tex)
	if err != nil {
		return CrossProcessHandle{}, fmt.Errorf("gpushare: export texture %d: %w", tex.ID(), err)
	}

	x.token++
	h := CrossProcessHandle{
		Kind:     kind,
		Value:    value,
		Token:    x.token,
		Instance: instance,
		Width:    tex.Width(),
		Height:   tex.Height(),
		Format:   tex.Format(),
		Adapter:  bytes.Clone(x.adapter),
		Sync:     sync,
	}
	x.live[h.Token] = exported{instance: instance, texture: tex.ID()}
	x.busy[tex.ID()] = h.Token
	x.count[instance]++
	return h, nil
}

// Released frees the texture behind token for reuse. It reports false for
// unknown or already released tokens.
func (x *Exporter) Released(token uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.live[token]
	if !ok {
		return false
	}
	delete(x.live, token)
	delete(x.busy, e.texture)
	if x.count[e.instance]--; x.count[e.instance] <= 0 {
		delete(x.count, e.instance)
	}
	return true
}

// ReleaseInstance frees every handle of instance and returns how many
// there were.
func (x *Exporter) ReleaseInstance(instance uuid.UUID) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for tok, e := range x.live {
		if e.instance != instance {
			continue
		}
		delete(x.live, tok)
		delete(x.busy, e.texture)
		n++
	}
	delete(x.count, instance)
	return n
}

// Outstanding returns the number of handles of instance not yet released.
func (x *Exporter) Outstanding(instance uuid.UUID) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.count[instance]
}
