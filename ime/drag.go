// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ime

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/webtex/ipc"
)

// DragStart describes content the page started dragging out of the view.
// X and Y are in host coordinates.
type DragStart struct {
	Data ipc.DragData
	X, Y int
	Ops  ipc.DragOps
}

var cursorShapes = map[string]gpucontext.CursorShape{
	ipc.CursorArrow:      gpucontext.CursorDefault,
	ipc.CursorIBeam:      gpucontext.CursorText,
	ipc.CursorHand:       gpucontext.CursorPointer,
	ipc.CursorCross:      gpucontext.CursorCrosshair,
	ipc.CursorWait:       gpucontext.CursorWait,
	ipc.CursorHelp:       gpucontext.CursorDefault,
	ipc.CursorMove:       gpucontext.CursorMove,
	ipc.CursorResizeNS:   gpucontext.CursorResizeNS,
	ipc.CursorResizeEW:   gpucontext.CursorResizeEW,
	ipc.CursorResizeNESW: gpucontext.CursorResizeNESW,
	ipc.CursorResizeNWSE: gpucontext.CursorResizeNWSE,
	ipc.CursorNotAllowed: gpucontext.CursorNotAllowed,
	ipc.CursorProgress:   gpucontext.CursorWait,
	ipc.CursorNone:       gpucontext.CursorNone,
}

// CursorShape maps an engine cursor name to the closest host cursor.
// Unknown names give the default arrow.
func CursorShape(name string) gpucontext.CursorShape {
	if c, ok := cursorShapes[name]; ok {
		return c
	}
	return gpucontext.CursorDefault
}

// DragEnter tells the engine that a host drag carrying data entered the
// view at host position (x, y), offering ops.
func (f *Forwarder) DragEnter(data ipc.DragData, x, y float64, ops ipc.DragOps) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vx, vy := f.toView(x, y)
	f.drag = true
	f.sendLocked(ipc.TypeDragEnter, ipc.DragBody{
		X:         vx,
		Y:         vy,
		Ops:       ops,
		Modifiers: keyFlags(f.mods),
		Data:      &data,
	})
}

// DragOver reports the drag moving inside the view. It is dropped when no
// drag entered the view.
func (f *Forwarder) DragOver(x, y float64, ops ipc.DragOps) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.drag {
		f.stats.DroppedDrag++
		return false
	}
	vx, vy := f.toView(x, y)
	f.sendLocked(ipc.TypeDragOver, ipc.DragBody{X: vx, Y: vy, Ops: ops, Modifiers: keyFlags(f.mods)})
	return true
}

// DragLeave reports the drag leaving the view without a drop.
func (f *Forwarder) DragLeave() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.drag {
		f.stats.DroppedDrag++
		return false
	}
	f.drag = false
	f.sendLocked(ipc.TypeDragLeave, nil)
	return true
}

// Drop drops the dragged content at host position (x, y).
func (f *Forwarder) Drop(x, y float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.drag {
		f.stats.DroppedDrag++
		return false
	}
	f.drag = false
	vx, vy := f.toView(x, y)
	f.sendLocked(ipc.TypeDragDrop, ipc.DragBody{X: vx, Y: vy, Modifiers: keyFlags(f.mods)})
	return true
}

// DragSourceEnded tells the engine that a drag it started ended at host
// position (x, y) with operation op, DragNone when it was canceled.
func (f *Forwarder) DragSourceEnded(x, y float64, op ipc.DragOps) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vx, vy := f.toView(x, y)
	f.sendLocked(ipc.TypeDragSourceEnded, ipc.DragBody{X: vx, Y: vy, Op: op})
}
