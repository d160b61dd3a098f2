// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind is the envelope kind of the message channel.
type Kind uint8

const (
	// KindText envelopes carry UTF-8 text.
	KindText Kind = iota + 1

	// KindBinary envelopes carry raw bytes.
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Envelope is one message of the message channel.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Text returns a text envelope.
func Text(s string) Envelope {
	return Envelope{Kind: KindText, Payload: []byte(s)}
}

// Binary returns a binary envelope. The payload is not copied.
func Binary(b []byte) Envelope {
	return Envelope{Kind: KindBinary, Payload: b}
}

// String returns the payload of a text envelope.
func (e Envelope) String() string {
	return string(e.Payload)
}

func (e Envelope) messageType() (Type, error) {
	switch e.Kind {
	case KindText:
		if !utf8.Valid(e.Payload) {
			return TypeInvalid, fmt.Errorf("%w: text envelope is not valid UTF-8", ErrProtocol)
		}
		return TypeText, nil
	case KindBinary:
		return TypeBinary, nil
	default:
		return TypeInvalid, fmt.Errorf("%w: envelope kind %d", ErrProtocol, e.Kind)
	}
}

// SendFunc hands a message to the transport without blocking.
type SendFunc func(*Message) error

// Channel is the ordered message channel of one instance.
//
// Send numbers outgoing envelopes 1, 2, 3, ...; Deliver accepts incoming
// envelopes only in that order. Closing the channel fails every later Send
// with ErrChannelClosed; envelopes already received stay readable until
// Drop.
type Channel struct {
	instance uuid.UUID
	send     SendFunc

	mu      sync.Mutex
	sendSeq uint64
	recvSeq uint64
	inbox   []Envelope
	head    int
	err     error
}

// NewChannel creates the channel of instance, sending through send.
func NewChannel(instance uuid.UUID, send SendFunc) *Channel {
	return &Channel{instance: instance, send: send}
}

// Instance returns the instance the channel belongs to.
func (c *Channel) Instance() uuid.UUID {
	return c.instance
}

// Send transmits e. It never blocks on the peer. After the channel is
// closed it fails immediately with an error wrapping ErrChannelClosed.
func (c *Channel) Send(e Envelope) error {
	t, err := e.messageType()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.closedErr()
	}
	c.sendSeq++
	m := &Message{Type: t, Instance: c.instance, Seq: c.sendSeq, Body: e.Payload}
	if err := c.send(m); err != nil {
		c.closeLocked(err)
		return c.closedErr()
	}
	return nil
}

// Deliver accepts an incoming text or binary message. A sequence gap or
// duplicate closes the channel and returns an error wrapping ErrProtocol.
func (c *Channel) Deliver(m *Message) error {
	var kind Kind
	switch m.Type {
	case TypeText:
		kind = KindText
	case TypeBinary:
		kind = KindBinary
	default:
		return fmt.Errorf("%w: %s is not a channel message", ErrProtocol, m.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.closedErr()
	}
	if m.Seq != c.recvSeq+1 {
		err := fmt.Errorf("%w: channel %s expected seq %d, got %d", ErrProtocol, c.instance, c.recvSeq+1, m.Seq)
		c.closeLocked(err)
		return err
	}
	c.recvSeq = m.Seq
	c.inbox = append(c.inbox, Envelope{Kind: kind, Payload: m.Body})
	return nil
}

// TryRecv returns the oldest undelivered envelope without blocking.
func (c *Channel) TryRecv() (Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.head == len(c.inbox) {
		return Envelope{}, false
	}
	e := c.inbox[c.head]
	c.inbox[c.head] = Envelope{}
	c.head++
	if c.head == len(c.inbox) {
		c.inbox = c.inbox[:0]
		c.head = 0
	}
	return e, true
}

// Pending returns the number of envelopes waiting for TryRecv.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox) - c.head
}

// Close closes the channel with cause. Closing an already closed channel
// keeps the first cause.
func (c *Channel) Close(cause error) {
	c.mu.Lock()
	c.closeLocked(cause)
	c.mu.Unlock()
}

// Drop closes the channel and discards every pending envelope.
func (c *Channel) Drop() {
	c.mu.Lock()
	c.closeLocked(nil)
	c.inbox = nil
	c.head = 0
	c.mu.Unlock()
}

// Err returns the close cause, or nil while the channel is open.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) closeLocked(cause error) {
	if c.err != nil {
		return
	}
	if cause == nil {
		cause = ErrChannelClosed
	}
	c.err = cause
}

func (c *Channel) closedErr() error {
	if errors.Is(c.err, ErrChannelClosed) {
		return c.err
	}
	return fmt.Errorf("%w: %w", ErrChannelClosed, c.err)
}
