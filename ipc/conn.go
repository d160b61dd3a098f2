// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Handler receives every message read from a Conn, on the reader goroutine.
// Handlers must not block; they queue work for the host loop instead.
type Handler func(m *Message)

// ConnStats counts traffic on a Conn.
type ConnStats struct {
	Sent     uint64
	Received uint64
	Queued   int
}

// Conn runs the reader and writer loops of one stream.
//
// Send only queues, so the host loop never waits for the peer. Once the
// stream fails or is closed, Send fails with ErrChannelClosed.
type Conn struct {
	rw      io.ReadWriteCloser
	r       fdReader
	handler Handler

	mu     sync.Mutex
	queue  []*Message
	wake   chan struct{}
	done   chan struct{}
	err    error
	closed bool
	stats  ConnStats
}

// NewConn wraps rw. Messages read are passed to h.
func NewConn(rw io.ReadWriteCloser, h Handler) *Conn {
	return &Conn{
		rw:      rw,
		r:       newFDReader(rw),
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run serves the stream until it ends, ctx is canceled, or Close is called.
// It returns nil when the peer closed the stream cleanly.
func (c *Conn) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.readLoop()
		c.closeWith(err)
		return err
	})
	g.Go(func() error {
		err := c.writeLoop()
		c.closeWith(err)
		return err
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.closeWith(nil)
		case <-c.done:
		}
		return nil
	})
	err := g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Send queues m for writing. FDs attached to m are closed by the Conn
// after they were written or when m is dropped.
func (c *Conn) Send(m *Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		closeFDs(m.FDs)
		return c.closedErr()
	}
	c.queue = append(c.queue, m)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops both loops and closes the stream. Queued messages are dropped.
func (c *Conn) Close() error {
	c.closeWith(nil)
	return nil
}

// Done is closed once the Conn stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the Conn, nil for a clean close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stats returns a snapshot of the traffic counters.
func (c *Conn) Stats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Queued = len(c.queue)
	return s
}

func (c *Conn) readLoop() error {
	for {
		m, err := ReadMessage(c.r)
		if err != nil {
			if c.isClosed() {
				return nil
			}
			closeFDs(c.r.takeFDs())
			return err
		}
		m.FDs = c.r.takeFDs()
		if m.Flags&FlagHandle == 0 && len(m.FDs) > 0 {
			closeFDs(m.FDs)
			m.FDs = nil
		}
		c.mu.Lock()
		c.stats.Received++
		c.mu.Unlock()
		if c.handler != nil {
			c.handler(m)
		} else {
			closeFDs(m.FDs)
		}
	}
}

func (c *Conn) writeLoop() error {
	for {
		select {
		case <-c.done:
			return nil
		case <-c.wake:
		}

		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for i, m := range batch {
			if err := c.write(m); err != nil {
				for _, rest := range batch[i+1:] {
					closeFDs(rest.FDs)
				}
				return err
			}
		}
	}
}

func (c *Conn) write(m *Message) error {
	buf, err := m.Encode()
	if err != nil {
		closeFDs(m.FDs)
		return err
	}
	if len(m.FDs) > 0 {
		err = writeWithFDs(c.rw, buf, m.FDs)
		closeFDs(m.FDs)
	} else {
		_, err = c.rw.Write(buf)
	}
	if err != nil {
		if c.isClosed() {
			return nil
		}
		return fmt.Errorf("ipc: write %s: %w", m.Type, err)
	}
	c.mu.Lock()
	c.stats.Sent++
	c.mu.Unlock()
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) closeWith(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	pending := c.queue
	c.queue = nil
	close(c.done)
	c.mu.Unlock()

	for _, m := range pending {
		closeFDs(m.FDs)
	}
	if cerr := c.rw.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		slogger().Debug("ipc: close stream", "err", cerr)
	}
	if c.err != nil {
		slogger().Warn("ipc: connection failed", "err", c.err)
	}
}

func (c *Conn) closedErr() error {
	if c.err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, c.err)
	}
	return ErrChannelClosed
}
