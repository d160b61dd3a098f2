// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpushare moves GPU textures between the engine process and the host
// as cross-process handles.
//
// A [CrossProcessHandle] wraps an OS-level token (a Win32 NT handle, a POSIX
// DMA-BUF file descriptor, or an IOSurface id) together with the metadata the
// receiving side needs to rebuild a sampleable texture: size, format, the
// adapter it was exported from, and a [SyncToken] that must be waited on
// before sampling.
//
// # Ownership
//
// Handles are single-use. The exporter relinquishes a handle the instant it
// is sent; on the host it lands in a [Slot] of an [Arena], which is the sole
// owner until the slot is released. Releasing closes the native handle and
// notifies the exporter so it can recycle the underlying texture. Slots are
// indexed by browser instance so tearing an instance down releases every
// handle it still holds, even when the engine process crashed.
//
// # Importing
//
// [Exchange] performs the import on the host side. It rejects handles that
// were already imported or are older than the last import ([ErrImport]) and
// handles exported from a different physical adapter ([ErrAdapterMismatch]).
// Both are recoverable: the caller falls back to software frames. The actual
// graphics API work is done by an [Importer] supplied by the host, selected
// per handle kind from a [Registry].
package gpushare
