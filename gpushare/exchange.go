// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpushare

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

// ImportedTexture is a host-owned texture rebuilt from a cross-process
// handle. It stays valid after the handle itself is released.
type ImportedTexture interface {
	// Texture returns the host graphics object, e.g. a gpucontext.Texture.
	Texture() any

	// Release destroys the host texture.
	Release()
}

// Importer turns a handle into a host texture using the host's graphics
// API. Implementations must enqueue a GPU wait on h.Sync before any use of
// the texture, and must not block the calling goroutine on the GPU.
//
// Returning an error wrapping ErrAdapterMismatch reports that the memory
// belongs to another physical adapter.
type Importer interface {
	Import(h CrossProcessHandle) (ImportedTexture, error)
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(h CrossProcessHandle) (ImportedTexture, error)

// Import calls f(h).
func (f ImporterFunc) Import(h CrossProcessHandle) (ImportedTexture, error) { return f(h) }

// Expect describes what the importer expects to receive. Zero fields are
// not checked.
type Expect struct {
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
}

// ExchangeStats counts import outcomes.
type ExchangeStats struct {
	Imported   int
	Mismatched int
	Failed     int
}

// Exchange is the consuming side of the GPU handle exchange.
type Exchange struct {
	registry *Registry

	mu      sync.Mutex
	adapter []byte
	last    map[uuid.UUID]uint64
	stats   ExchangeStats
}

// NewExchange creates an exchange that imports through importers from reg
// and rejects handles exported from an adapter other than adapter. An empty
// adapter disables the adapter check.
func NewExchange(reg *Registry, adapter []byte) *Exchange {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Exchange{
		registry: reg,
		adapter:  bytes.Clone(adapter),
		last:     make(map[uuid.UUID]uint64),
	}
}

// SetAdapter replaces the importer's adapter identity, e.g. after the host
// re-queried it following a device-lost event.
func (e *Exchange) SetAdapter(adapter []byte) {
	e.mu.Lock()
	e.adapter = bytes.Clone(adapter)
	e.mu.Unlock()
}

// Import rebuilds the texture behind slot and releases the slot, whether or
// not the import succeeded. A slot can be imported once; importing it again,
// or importing a handle whose token is not newer than the last import for
// its instance, fails with ErrImport.
func (e *Exchange) Import(slot *Slot, want Expect) (ImportedTexture, error) {
	defer slot.Release()

	h := slot.Handle()
	if !slot.consume() || slot.Released() {
		return nil, e.fail(fmt.Errorf("%w: %s already imported", ErrImport, h))
	}

	e.mu.Lock()
	last := e.last[h.Instance]
	if h.Token <= last {
		e.mu.Unlock()
		return nil, e.fail(fmt.Errorf("%w: %s is not newer than token %d", ErrImport, h, last))
	}
	e.last[h.Instance] = h.Token
	adapter := e.adapter
	e.mu.Unlock()

	if len(adapter) > 0 && len(h.Adapter) > 0 && !bytes.Equal(adapter, h.Adapter) {
		return nil, e.fail(fmt.Errorf("%w: handle from %x, importer on %x", ErrAdapterMismatch, h.Adapter, adapter))
	}
	if (want.Width != 0 && want.Width != h.Width) || (want.Height != 0 && want.Height != h.Height) {
		return nil, e.fail(fmt.Errorf("%w: %s, want %dx%d", ErrImport, h, want.Width, want.Height))
	}
	if want.Format != gputypes.TextureFormatUndefined && want.Format != h.Format {
		return nil, e.fail(fmt.Errorf("%w: %s, want format %v", ErrImport, h, want.Format))
	}
	if !h.Sync.Valid() {
		return nil, e.fail(fmt.Errorf("%w: %s carries no sync token", ErrImport, h))
	}

	imp, err := e.registry.Importer(h.Kind)
	if err != nil {
		return nil, e.fail(fmt.Errorf("%w: %w", ErrImport, err))
	}
	tex, err := imp.Import(h)
	if err != nil {
		if !errors.Is(err, ErrAdapterMismatch) {
			err = fmt.Errorf("%w: %w", ErrImport, err)
		}
		return nil, e.fail(err)
	}

	e.mu.Lock()
	e.stats.Imported++
	e.mu.Unlock()
	slogger().Debug("gpushare: imported", "handle", h.String())
	return tex, nil
}

// Forget drops per-instance bookkeeping after the instance is destroyed.
func (e *Exchange) Forget(id uuid.UUID) {
	e.mu.Lock()
	delete(e.last, id)
	e.mu.Unlock()
}

// Stats returns a snapshot of the import counters.
func (e *Exchange) Stats() ExchangeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Exchange) fail(err error) error {
	e.mu.Lock()
	if errors.Is(err, ErrAdapterMismatch) {
		e.stats.Mismatched++
	} else {
		e.stats.Failed++
	}
	e.mu.Unlock()
	return err
}
