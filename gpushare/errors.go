// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpushare

import "errors"

var (
	// ErrAdapterMismatch is returned when a handle was exported from a
	// different physical adapter than the importer's. Recoverable: the
	// instance falls back to software frames.
	ErrAdapterMismatch = errors.New("gpushare: adapter mismatch")

	// ErrImport is returned when a handle cannot be imported: it was already
	// imported, it is stale, its metadata does not match, or the graphics
	// backend rejected it. Recoverable like ErrAdapterMismatch.
	ErrImport = errors.New("gpushare: import failed")

	// ErrInstanceReleased is returned when a handle arrives for an instance
	// whose slots were already released. The handle is closed immediately.
	ErrInstanceReleased = errors.New("gpushare: instance released")

	// ErrPoolExhausted is returned by an Exporter whose live handle count
	// reached its limit because the importer did not release handles.
	ErrPoolExhausted = errors.New("gpushare: export pool exhausted")

	// ErrResourceBusy is returned when exporting a texture that already has
	// an unreleased handle.
	ErrResourceBusy = errors.New("gpushare: resource already exported")

	// ErrNoImporter is returned when no registered importer handles a kind.
	ErrNoImporter = errors.New("gpushare: no importer for handle kind")
)
