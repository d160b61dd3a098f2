// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpushare

import (
	"fmt"
	"sort"
	"sync"
)

// ImporterFactory creates an importer for one handle kind.
type ImporterFactory func() (Importer, error)

// RegistryEntry represents a registered importer.
type RegistryEntry struct {
	// Name is the unique identifier for this importer.
	Name string

	// Kind is the handle kind the importer accepts.
	Kind HandleKind

	// Priority determines selection order among importers of the same kind
	// (higher = preferred).
	Priority int

	// Factory creates the importer. It is called at most once per entry;
	// the result is cached.
	Factory ImporterFactory

	// Available reports if the importer works on this system.
	Available func() bool
}

var globalRegistry = NewRegistry()

// Registry manages importers, keyed by name and selected by handle kind.
//
// Host integrations register the importer for their graphics API:
//
//	func init() {
//	    gpushare.Register("vulkan-dmabuf", gpushare.HandleFD, 100, newDMABufImporter, nil)
//	}
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
	cache   map[string]Importer
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*RegistryEntry),
		cache:   make(map[string]Importer),
	}
}

// DefaultRegistry returns the process-wide registry used by Register.
func DefaultRegistry() *Registry {
	return globalRegistry
}

// Register adds an importer to the global registry.
func Register(name string, kind HandleKind, priority int, factory ImporterFactory, available func() bool) {
	globalRegistry.Register(name, kind, priority, factory, available)
}

// Register adds an importer to this registry. If available is nil, the
// importer is assumed always available. Registering a name that already
// exists replaces the previous entry.
func (r *Registry) Register(name string, kind HandleKind, priority int, factory ImporterFactory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if available == nil {
		available = func() bool { return true }
	}
	r.entries[name] = &RegistryEntry{
		Name:      name,
		Kind:      kind,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
	delete(r.cache, name)
}

// Unregister removes an importer from this registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, name)
	delete(r.cache, name)
}

// Kinds returns the handle kinds with at least one available importer.
func (r *Registry) Kinds() []HandleKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[HandleKind]bool)
	var kinds []HandleKind
	for _, e := range r.entries {
		if seen[e.Kind] || !e.Available() {
			continue
		}
		seen[e.Kind] = true
		kinds = append(kinds, e.Kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether an available importer exists for kind.
func (r *Registry) Supports(kind HandleKind) bool {
	for _, k := range r.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Importer returns the highest-priority available importer for kind.
// A factory that fails is skipped in favor of the next entry.
func (r *Registry) Importer(kind HandleKind) (Importer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*RegistryEntry
	for _, e := range r.entries {
		if e.Kind == kind {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	var lastErr error
	for _, e := range candidates {
		if imp, ok := r.cache[e.Name]; ok {
			return imp, nil
		}
		if !e.Available() {
			continue
		}
		imp, err := e.Factory()
		if err != nil {
			slogger().Warn("gpushare: importer unavailable", "name", e.Name, "err", err)
			lastErr = err
			continue
		}
		r.cache[e.Name] = imp
		return imp, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoImporter, kind, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoImporter, kind)
}
