// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ime

import (
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/ipc"
)

type cursorLog struct {
	shapes []gpucontext.CursorShape
}

func (c *cursorLog) SetCursor(s gpucontext.CursorShape) { c.shapes = append(c.shapes, s) }

func engineMessage(t *testing.T, typ ipc.Type, body any) *ipc.Message {
	t.Helper()
	m, err := ipc.NewControl(typ, uuid.New(), body)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCursorShapes(t *testing.T) {
	tests := []struct {
		name string
		want gpucontext.CursorShape
	}{
		{ipc.CursorArrow, gpucontext.CursorDefault},
		{ipc.CursorIBeam, gpucontext.CursorText},
		{ipc.CursorHand, gpucontext.CursorPointer},
		{ipc.CursorCross, gpucontext.CursorCrosshair},
		{ipc.CursorResizeNESW, gpucontext.CursorResizeNESW},
		{ipc.CursorNotAllowed, gpucontext.CursorNotAllowed},
		{ipc.CursorProgress, gpucontext.CursorWait},
		{ipc.CursorHelp, gpucontext.CursorDefault},
		{ipc.CursorNone, gpucontext.CursorNone},
		{"zoom-in", gpucontext.CursorDefault},
	}
	for _, tt := range tests {
		if got := CursorShape(tt.name); got != tt.want {
			t.Errorf("CursorShape(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCursorAppliedOnPump(t *testing.T) {
	r := &recorder{}
	cl := &cursorLog{}
	var reported []gpucontext.CursorShape
	f := NewForwarder(r.send, Config{
		Cursor:   cl,
		OnCursor: func(s gpucontext.CursorShape) { reported = append(reported, s) },
	})

	if !f.HandleMessage(engineMessage(t, ipc.TypeCursor, ipc.CursorBody{Cursor: ipc.CursorHand})) {
		t.Fatal("cursor message not consumed")
	}
	f.HandleMessage(engineMessage(t, ipc.TypeCursor, ipc.CursorBody{Cursor: ipc.CursorIBeam}))
	if len(cl.shapes) != 0 {
		t.Fatal("cursor applied before Pump")
	}
	f.Pump()
	if len(cl.shapes) != 1 || cl.shapes[0] != gpucontext.CursorText {
		t.Errorf("SetCursor calls = %v, want [text]", cl.shapes)
	}
	if len(reported) != 1 || reported[0] != gpucontext.CursorText {
		t.Errorf("OnCursor calls = %v, want [text]", reported)
	}

	f.Pump()
	if len(cl.shapes) != 1 {
		t.Errorf("cursor applied again without a new request: %v", cl.shapes)
	}
}

func TestDragIntoView(t *testing.T) {
	f, r, _ := newTestForwarder()
	f.SetView(100, 50, 2)

	if f.DragOver(110, 60, ipc.DragCopy) || f.Drop(110, 60) || f.DragLeave() {
		t.Fatal("drag events without an enter were forwarded")
	}
	if st := f.Stats(); st.DroppedDrag != 3 || len(r.msgs) != 0 {
		t.Fatalf("DroppedDrag = %d with %d sent, want 3 and none", st.DroppedDrag, len(r.msgs))
	}

	f.DragEnter(ipc.DragData{File: true, FileNames: []string{"/tmp/a.txt"}}, 110, 60, ipc.DragCopy|ipc.DragMove)
	enter := r.last(t)
	b := enter.body.(ipc.DragBody)
	if enter.t != ipc.TypeDragEnter || b.X != 20 || b.Y != 20 || b.Ops != ipc.DragCopy|ipc.DragMove {
		t.Fatalf("enter = %v %+v", enter.t, b)
	}
	if b.Data == nil || len(b.Data.FileNames) != 1 {
		t.Fatalf("enter data = %+v", b.Data)
	}

	if !f.DragOver(120, 70, ipc.DragCopy) {
		t.Fatal("drag over dropped")
	}
	if over := r.last(t); over.t != ipc.TypeDragOver || over.body.(ipc.DragBody).X != 40 {
		t.Errorf("over = %v %+v", over.t, over.body)
	}
	if !f.Drop(120, 70) {
		t.Fatal("drop dropped")
	}
	if drop := r.last(t); drop.t != ipc.TypeDragDrop || drop.body.(ipc.DragBody).Y != 40 {
		t.Errorf("drop = %v %+v", drop.t, drop.body)
	}
	if f.DragLeave() {
		t.Error("leave after drop was forwarded")
	}
}

func TestDragFeedbackOnPump(t *testing.T) {
	r := &recorder{}
	var starts []DragStart
	var ops []ipc.DragOps
	f := NewForwarder(r.send, Config{
		OnDragStart:  func(d DragStart) { starts = append(starts, d) },
		OnDragCursor: func(op ipc.DragOps) { ops = append(ops, op) },
	})
	f.SetView(100, 50, 2)

	f.HandleMessage(engineMessage(t, ipc.TypeDragStarted, ipc.DragStartedBody{
		Data: ipc.DragData{Link: true, LinkURL: "https://example.com/"},
		X:    20,
		Y:    40,
		Ops:  ipc.DragCopy | ipc.DragLink,
	}))
	f.HandleMessage(engineMessage(t, ipc.TypeDragCursor, ipc.DragCursorBody{Op: ipc.DragMove}))
	f.HandleMessage(engineMessage(t, ipc.TypeDragCursor, ipc.DragCursorBody{Op: ipc.DragCopy}))
	f.Pump()

	if len(starts) != 1 {
		t.Fatalf("drag starts = %d, want 1", len(starts))
	}
	if s := starts[0]; s.X != 110 || s.Y != 70 || s.Data.LinkURL != "https://example.com/" || s.Ops != ipc.DragCopy|ipc.DragLink {
		t.Errorf("drag start = %+v", s)
	}
	if len(ops) != 1 || ops[0] != ipc.DragCopy {
		t.Errorf("drag cursor = %v, want [copy]", ops)
	}

	f.DragSourceEnded(130, 60, ipc.DragCopy)
	if end := r.last(t); end.t != ipc.TypeDragSourceEnded || end.body.(ipc.DragBody).Op != ipc.DragCopy || end.body.(ipc.DragBody).X != 60 {
		t.Errorf("source ended = %v %+v", end.t, end.body)
	}
}
