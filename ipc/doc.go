// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package ipc implements the local protocol between the host and the browser
// engine process.
//
// Every message is a length-prefixed binary frame:
//
//	u32be length | u8 type | u8 flags | [16]byte instance | u64be seq | body
//
// length counts every byte after itself and is limited to MaxFrameSize.
// Control bodies are JSON. Text and binary messages carry their payload raw,
// so binary data never goes through a text encoding. Software frames carry a
// small fixed header followed by raw pixels.
//
// Two streams connect the processes: the control plane and the data plane.
// Accelerated frames travel on the data plane; on unix the DMA-BUF file
// descriptor rides on the same write as SCM_RIGHTS ancillary data.
//
// A Conn runs the reader and writer loops of one stream. A Channel is the
// per-instance ordered text/binary message channel layered on top: each
// direction numbers its messages and the receiver rejects gaps and
// duplicates, closing the channel with ErrProtocol.
package ipc
