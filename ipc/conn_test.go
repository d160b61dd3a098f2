// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type inbox struct {
	mu   sync.Mutex
	msgs []*Message
	ch   chan struct{}
}

func newInbox() *inbox {
	return &inbox{ch: make(chan struct{}, 1024)}
}

func (in *inbox) handle(m *Message) {
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
	in.ch <- struct{}{}
}

func (in *inbox) wait(t *testing.T, n int) []*Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		in.mu.Lock()
		if len(in.msgs) >= n {
			out := append([]*Message(nil), in.msgs...)
			in.mu.Unlock()
			return out
		}
		in.mu.Unlock()
		select {
		case <-in.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func startConn(t *testing.T, c net.Conn, h Handler) (*Conn, chan error) {
	t.Helper()
	conn := NewConn(c, h)
	errc := make(chan error, 1)
	go func() { errc <- conn.Run(context.Background()) }()
	t.Cleanup(func() { conn.Close() })
	return conn, errc
}

func TestConnOrderedDelivery(t *testing.T) {
	a, b := net.Pipe()
	in := newInbox()
	host, _ := startConn(t, a, nil)
	startConn(t, b, in.handle)

	inst := uuid.New()
	ch := NewChannel(inst, host.Send)
	const n = 50
	for i := 0; i < n; i++ {
		if err := ch.Send(Binary([]byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
	}

	recv := NewChannel(inst, nil)
	for _, m := range in.wait(t, n) {
		if err := recv.Deliver(m); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		e, ok := recv.TryRecv()
		if !ok || e.Payload[0] != byte(i) {
			t.Fatalf("envelope %d out of order: %v", i, e.Payload)
		}
	}
}

func TestConnPeerClose(t *testing.T) {
	a, b := net.Pipe()
	host, errc := startConn(t, a, nil)
	engine, _ := startConn(t, b, nil)

	engine.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil on clean close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host Run did not return after peer close")
	}
	<-host.Done()

	err := host.Send(&Message{Type: TypeText, Seq: 1})
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send after close = %v, want ErrChannelClosed", err)
	}
}

func TestConnContextCancel(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := NewConn(a, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored context cancellation")
	}
	if err := conn.Send(&Message{Type: TypeShutdown}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send = %v, want ErrChannelClosed", err)
	}
}

func TestConnProtocolError(t *testing.T) {
	a, b := net.Pipe()
	host, errc := startConn(t, a, nil)

	// A frame header with an unknown type.
	go func() {
		_, _ = b.Write([]byte{0, 0, 0, 26, 0xee, 0})
		_, _ = b.Write(make([]byte, 24))
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("Run = %v, want ErrProtocol", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail on a bad frame")
	}
	if !errors.Is(host.Err(), ErrProtocol) {
		t.Errorf("Err = %v", host.Err())
	}
	b.Close()
}
