// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package enginetest

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ipc"
	"github.com/gogpu/webtex/supervisor"
)

// host is the host side of a connected test engine.
type host struct {
	t       *testing.T
	engine  *Engine
	control *ipc.Conn
	data    *ipc.Conn
	msgs    chan *ipc.Message
	served  chan error
}

func startEngine(t *testing.T, cfg Config) *host {
	t.Helper()
	hc, ec := net.Pipe()
	hd, ed := net.Pipe()

	h := &host{
		t:      t,
		engine: New(cfg),
		msgs:   make(chan *ipc.Message, 64),
		served: make(chan error, 1),
	}
	recv := func(m *ipc.Message) { h.msgs <- m }
	h.control = ipc.NewConn(hc, recv)
	h.data = ipc.NewConn(hd, recv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.served <- h.engine.Serve(ctx, ec, ed) }()
	go func() { _ = h.control.Run(ctx) }()
	go func() { _ = h.data.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.served:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return h
}

func (h *host) send(typ ipc.Type, id uuid.UUID, body any) {
	h.t.Helper()
	m, err := ipc.NewControl(typ, id, body)
	if err != nil {
		h.t.Fatal(err)
	}
	if err := h.control.Send(m); err != nil {
		h.t.Fatal(err)
	}
}

// expect returns the next message of type typ, skipping others.
func (h *host) expect(typ ipc.Type) *ipc.Message {
	h.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-h.msgs:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			h.t.Fatalf("no %s message", typ)
			return nil
		}
	}
}

func (h *host) create(body ipc.CreateBody) uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	h.send(ipc.TypeCreate, id, body)
	var created ipc.CreatedBody
	if err := h.expect(ipc.TypeCreated).Decode(&created); err != nil {
		h.t.Fatal(err)
	}
	if created.Error != "" {
		h.t.Fatalf("create failed: %s", created.Error)
	}
	return id
}

func TestHandshake(t *testing.T) {
	h := startEngine(t, Config{Name: "fake"})
	h.send(ipc.TypeHello, uuid.Nil, ipc.HelloBody{Version: ipc.Version, PID: 1})

	var ack ipc.HelloAckBody
	if err := h.expect(ipc.TypeHelloAck).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Engine != "fake" || ack.Version != ipc.Version {
		t.Errorf("ack = %+v", ack)
	}
	if hello, ok := h.engine.Hello(); !ok || hello.PID != 1 {
		t.Errorf("Hello() = %+v, %v", hello, ok)
	}
}

func TestSoftwareFrames(t *testing.T) {
	h := startEngine(t, Config{AutoPaint: true})
	id := h.create(ipc.CreateBody{Width: 8, Height: 4, Scale: 1})

	m := h.expect(ipc.TypeSoftwareFrame)
	hdr, px, err := ipc.DecodeSoftwareFrame(m.Body)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Width != 8 || hdr.Height != 4 || m.Seq != 1 {
		t.Fatalf("frame %dx%d seq %d", hdr.Width, hdr.Height, m.Seq)
	}
	if want := Pixel(1); [4]byte(px[:4]) != want {
		t.Errorf("pixel = %v, want %v", px[:4], want)
	}

	h.send(ipc.TypeResize, id, ipc.ResizeBody{Width: 16, Height: 16, Scale: 2})
	m = h.expect(ipc.TypeSoftwareFrame)
	hdr, _, _ = ipc.DecodeSoftwareFrame(m.Body)
	if hdr.Width != 16 || m.Seq != 2 {
		t.Errorf("after resize: width %d seq %d", hdr.Width, m.Seq)
	}
	if v, _ := h.engine.View(id); v.Scale != 2 || v.Frames != 2 {
		t.Errorf("view = %+v", v)
	}
}

func TestCreateRejectsEmptySize(t *testing.T) {
	h := startEngine(t, Config{})
	h.send(ipc.TypeCreate, uuid.New(), ipc.CreateBody{})
	var created ipc.CreatedBody
	if err := h.expect(ipc.TypeCreated).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Error == "" {
		t.Error("empty size accepted")
	}
}

func TestAcceleratedExportAndRelease(t *testing.T) {
	h := startEngine(t, Config{Accelerated: true, Adapter: []byte{7}, PoolLimit: 2})
	id := h.create(ipc.CreateBody{Width: 32, Height: 32, Accelerated: true})

	if err := h.engine.Paint(id); err != nil {
		t.Fatal(err)
	}
	var hb ipc.HandleBody
	if err := h.expect(ipc.TypeAcceleratedFrame).Decode(&hb); err != nil {
		t.Fatal(err)
	}
	handle := hb.Handle(id)
	if handle.Kind != gpushare.HandleIOSurface || !handle.Sync.Valid() || handle.Adapter[0] != 7 {
		t.Fatalf("handle = %+v", handle)
	}

	// Two frames fill the pool; the third paint has nothing to export into.
	if err := h.engine.Paint(id); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Paint(id); err == nil {
		t.Error("paint succeeded with the export pool exhausted")
	}
	if n := h.engine.Outstanding(id); n != 2 {
		t.Fatalf("Outstanding = %d, want 2", n)
	}

	h.send(ipc.TypeReleaseHandle, id, ipc.ReleaseBody{Token: handle.Token})
	waitFor(t, func() bool { return h.engine.Outstanding(id) == 1 })
	if err := h.engine.Paint(id); err != nil {
		t.Errorf("paint after release: %v", err)
	}
}

func TestPathChangeSwitchesToSoftware(t *testing.T) {
	h := startEngine(t, Config{Accelerated: true, AutoPaint: true})
	id := h.create(ipc.CreateBody{Width: 4, Height: 4, Accelerated: true})
	h.expect(ipc.TypeAcceleratedFrame)

	h.send(ipc.TypeSetPath, id, ipc.PathBody{Reason: "adapter mismatch"})
	h.expect(ipc.TypeSoftwareFrame)
	v, _ := h.engine.View(id)
	if v.Accelerated || v.PathReason != "adapter mismatch" {
		t.Errorf("view = %+v", v)
	}
	if n := h.engine.Outstanding(id); n != 0 {
		t.Errorf("Outstanding after path change = %d", n)
	}
}

func TestChannelEcho(t *testing.T) {
	h := startEngine(t, Config{Echo: true})
	id := h.create(ipc.CreateBody{Width: 4, Height: 4})

	hostCh := ipc.NewChannel(id, h.control.Send)
	for _, s := range []string{"one", "two", "three"} {
		if err := hostCh.Send(ipc.Text(s)); err != nil {
			t.Fatal(err)
		}
	}
	if err := hostCh.Send(ipc.Binary([]byte{0, 1, 2})); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"one", "two", "three"} {
		m := h.expect(ipc.TypeText)
		if string(m.Body) != want {
			t.Errorf("echo = %q, want %q", m.Body, want)
		}
	}
	if m := h.expect(ipc.TypeBinary); len(m.Body) != 3 || m.Seq != 4 {
		t.Errorf("binary echo = %v seq %d", m.Body, m.Seq)
	}
	if got := h.engine.Received(id); len(got) != 4 || got[0].String() != "one" {
		t.Errorf("Received = %v", got)
	}
}

func TestInputRecorded(t *testing.T) {
	h := startEngine(t, Config{})
	id := h.create(ipc.CreateBody{Width: 4, Height: 4})

	h.send(ipc.TypeKey, id, ipc.KeyBody{Kind: ipc.KeyRawDown, WindowsKeyCode: 0x41})
	h.send(ipc.TypeCommit, id, ipc.CommitBody{Text: "日本"})
	h.send(ipc.TypeFocus, id, ipc.FocusBody{Focused: true})

	waitFor(t, func() bool {
		v, _ := h.engine.View(id)
		return v.Focused && len(v.Input) == 2
	})
}

func TestDestroyReleasesHandles(t *testing.T) {
	h := startEngine(t, Config{Accelerated: true})
	id := h.create(ipc.CreateBody{Width: 4, Height: 4, Accelerated: true})
	if err := h.engine.Paint(id); err != nil {
		t.Fatal(err)
	}

	h.send(ipc.TypeDestroy, id, nil)
	h.expect(ipc.TypeDestroyed)
	if n := h.engine.Outstanding(id); n != 0 {
		t.Errorf("Outstanding after destroy = %d", n)
	}
	if err := h.engine.Paint(id); err == nil {
		t.Error("paint of destroyed instance succeeded")
	}
}

func TestPopupAndNotifications(t *testing.T) {
	h := startEngine(t, Config{})
	id := h.create(ipc.CreateBody{Width: 16, Height: 16})

	if err := h.engine.ShowPopup(id, frame.Rect{X: 2, Y: 2, Width: 4, Height: 3}, [4]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	var pb ipc.PopupBody
	if err := h.expect(ipc.TypePopup).Decode(&pb); err != nil || !pb.Show || pb.Width != 4 {
		t.Fatalf("popup = %+v, %v", pb, err)
	}
	m := h.expect(ipc.TypeSoftwareFrame)
	if m.Flags&ipc.FlagPopup == 0 {
		t.Error("popup pixels not flagged")
	}

	if err := h.engine.Navigate(id, "https://example.com/", "Example"); err != nil {
		t.Fatal(err)
	}
	var title ipc.TitleBody
	if err := h.expect(ipc.TypeTitle).Decode(&title); err != nil || title.Title != "Example" {
		t.Errorf("title = %+v, %v", title, err)
	}
}

func TestShutdownAck(t *testing.T) {
	h := startEngine(t, Config{})
	h.send(ipc.TypeShutdown, uuid.Nil, nil)
	h.expect(ipc.TypeShutdownAck)

	select {
	case err := <-h.served:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
		h.served <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit after shutdown")
	}
}

func TestLauncherCrash(t *testing.T) {
	l := NewLauncher(Config{})
	p, err := l.Launch(context.Background(), supervisor.Config{Path: "engine"})
	if err != nil {
		t.Fatal(err)
	}
	l.Last().Crash()
	st, _ := p.Wait()
	if st.Clean() {
		t.Errorf("crash exit status = %v", st)
	}
	if cfgs := l.Configs(); len(cfgs) != 1 || cfgs[0].Path != "engine" {
		t.Errorf("Configs = %+v", cfgs)
	}
}

func TestLauncherFailWith(t *testing.T) {
	l := NewLauncher(Config{})
	l.FailWith(errors.New("no such file"))
	if _, err := l.Launch(context.Background(), supervisor.Config{}); !errors.Is(err, supervisor.ErrSpawn) {
		t.Errorf("Launch = %v, want ErrSpawn", err)
	}
	if l.Last() != nil {
		t.Error("failed launch recorded an engine")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
