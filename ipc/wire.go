// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	// Version is the protocol version exchanged in the hello handshake.
	Version = 1

	// MaxFrameSize bounds the length field of a frame.
	MaxFrameSize = 64 << 20

	// headerSize is the frame header after the length prefix.
	headerSize = 1 + 1 + 16 + 8
)

// Type identifies a message.
type Type uint8

// Message types. The comment names the direction.
const (
	TypeInvalid Type = iota

	TypeHello       // host -> engine
	TypeHelloAck    // engine -> host
	TypeShutdown    // host -> engine
	TypeShutdownAck // engine -> host
	TypeError       // both

	TypeCreate    // host -> engine
	TypeCreated   // engine -> host
	TypeDestroy   // host -> engine
	TypeDestroyed // engine -> host

	TypeResize    // host -> engine
	TypeFrameRate // host -> engine
	TypeSetPath   // host -> engine
	TypeMute      // host -> engine

	TypeText   // both, message channel
	TypeBinary // both, message channel

	TypeSoftwareFrame    // engine -> host
	TypeAcceleratedFrame // engine -> host, data plane
	TypeReleaseHandle    // host -> engine, data plane
	TypePopup            // engine -> host

	TypeFocus       // both: view focus to the engine, editable focus to the host
	TypeCaret       // engine -> host
	TypeComposition // host -> engine
	TypeCommit      // host -> engine
	TypeCancelIME   // host -> engine

	TypeKey   // host -> engine
	TypeMouse // host -> engine
	TypeWheel // host -> engine

	TypeLoading // engine -> host
	TypeAddress // engine -> host
	TypeTitle   // engine -> host
	TypeConsole // engine -> host
	TypeAudio   // engine -> host

	TypeCursor // engine -> host

	TypeDragEnter       // host -> engine
	TypeDragOver        // host -> engine
	TypeDragLeave       // host -> engine
	TypeDragDrop        // host -> engine
	TypeDragSourceEnded // host -> engine
	TypeDragStarted     // engine -> host
	TypeDragCursor      // engine -> host

	TypeDownload       // engine -> host
	TypeDownloadUpdate // engine -> host

	typeCount
)

var typeNames = [...]string{
	TypeInvalid:          "invalid",
	TypeHello:            "hello",
	TypeHelloAck:         "hello_ack",
	TypeShutdown:         "shutdown",
	TypeShutdownAck:      "shutdown_ack",
	TypeError:            "error",
	TypeCreate:           "create",
	TypeCreated:          "created",
	TypeDestroy:          "destroy",
	TypeDestroyed:        "destroyed",
	TypeResize:           "resize",
	TypeFrameRate:        "frame_rate",
	TypeSetPath:          "set_path",
	TypeMute:             "mute",
	TypeText:             "text",
	TypeBinary:           "binary",
	TypeSoftwareFrame:    "software_frame",
	TypeAcceleratedFrame: "accelerated_frame",
	TypeReleaseHandle:    "release_handle",
	TypePopup:            "popup",
	TypeFocus:            "focus",
	TypeCaret:            "caret",
	TypeComposition:      "composition",
	TypeCommit:           "commit",
	TypeCancelIME:        "cancel_ime",
	TypeKey:              "key",
	TypeMouse:            "mouse",
	TypeWheel:            "wheel",
	TypeLoading:          "loading",
	TypeAddress:          "address",
	TypeTitle:            "title",
	TypeConsole:          "console",
	TypeAudio:            "audio",
	TypeCursor:           "cursor",
	TypeDragEnter:        "drag_enter",
	TypeDragOver:         "drag_over",
	TypeDragLeave:        "drag_leave",
	TypeDragDrop:         "drag_drop",
	TypeDragSourceEnded:  "drag_source_ended",
	TypeDragStarted:      "drag_started",
	TypeDragCursor:       "drag_cursor",
	TypeDownload:         "download",
	TypeDownloadUpdate:   "download_update",
}

func (t Type) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Flags modify how a message is interpreted.
const (
	// FlagHandle marks a message that carries OS handles out of band.
	FlagHandle uint8 = 1 << iota

	// FlagPopup marks a software frame holding popup widget pixels.
	FlagPopup
)

// Message is one decoded frame.
type Message struct {
	Type     Type
	Flags    uint8
	Instance uuid.UUID
	Seq      uint64
	Body     []byte

	// FDs are file descriptors transferred with the message. They are owned
	// by the receiver once the message is read, and by the transport once
	// the message is sent.
	FDs []int
}

func (m *Message) String() string {
	return fmt.Sprintf("%s[%s #%d %dB]", m.Type, m.Instance, m.Seq, len(m.Body))
}

// Encode returns the wire form of m, length prefix included.
func (m *Message) Encode() ([]byte, error) {
	n := headerSize + len(m.Body)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, 4+n)
	binary.BigEndian.PutUint32(buf[0:4], uint32(n))
	buf[4] = byte(m.Type)
	buf[5] = m.Flags
	copy(buf[6:22], m.Instance[:])
	binary.BigEndian.PutUint64(buf[22:30], m.Seq)
	copy(buf[30:], m.Body)
	return buf, nil
}

// WriteMessage writes m to w in a single Write call.
func WriteMessage(w io.Writer, m *Message) error {
	buf, err := m.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("ipc: write %s: %w", m.Type, err)
	}
	return nil
}

// ReadMessage reads one frame from r. It returns io.EOF only when the stream
// ends cleanly between frames.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length", ErrProtocol)
		}
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(lenBuf[:]))
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if n < headerSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrProtocol, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated frame: %w", ErrProtocol, err)
	}
	m := &Message{
		Type:  Type(buf[0]),
		Flags: buf[1],
		Seq:   binary.BigEndian.Uint64(buf[18:26]),
		Body:  buf[headerSize:],
	}
	copy(m.Instance[:], buf[2:18])
	if m.Type == TypeInvalid || m.Type >= typeCount {
		return nil, fmt.Errorf("%w: unknown message type %d", ErrProtocol, buf[0])
	}
	return m, nil
}
