// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"sync"

	"github.com/gogpu/gputypes"
)

// DefaultRingDepth is triple buffering: one frame being written by the
// transport, one waiting in the mailbox, one owned by the host.
const DefaultRingDepth = 3

// RingStats reports buffer reuse counters.
type RingStats struct {
	Allocated int // buffers allocated since creation
	Reused    int // acquisitions served from the free list
	Free      int // buffers currently idle
}

// Ring recycles software pixel buffers of a single size.
//
// Acquire never blocks: when every buffer is in flight a new one is
// allocated, and Recycle keeps at most depth idle buffers. A size change
// drops all idle buffers, so buffers from the old size are never reused.
type Ring struct {
	mu    sync.Mutex
	depth int
	size  int
	free  [][]byte
	stats RingStats
}

// NewRing creates a ring retaining up to depth idle buffers.
// A depth below 2 is raised to 2 (double buffering).
func NewRing(depth int) *Ring {
	if depth <= 0 {
		depth = DefaultRingDepth
	}
	return &Ring{depth: max(depth, 2)}
}

// Acquire returns a buffer of exactly n bytes.
func (r *Ring) Acquire(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n != r.size {
		r.size = n
		r.free = nil
	}
	if k := len(r.free); k > 0 {
		buf := r.free[k-1]
		r.free[k-1] = nil
		r.free = r.free[:k-1]
		r.stats.Reused++
		return buf
	}
	r.stats.Allocated++
	return make([]byte, n)
}

// Recycle returns a buffer obtained from Acquire.
// Buffers of a stale size are dropped.
func (r *Ring) Recycle(buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(buf) != r.size || len(r.free) >= r.depth {
		return
	}
	r.free = append(r.free, buf)
}

// NewFrame acquires a buffer for a tightly packed frame and returns a software
// frame whose Release recycles that buffer. The caller fills Pixels.
func (r *Ring) NewFrame(seq uint64, size Size, format gputypes.TextureFormat) *Frame {
	stride := size.Width * BytesPerPixel(format)
	buf := r.Acquire(stride * size.Height)
	return NewSoftware(seq, size, format, stride, buf, func() { r.Recycle(buf) })
}

// Stats returns a snapshot of the ring's counters.
func (r *Ring) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Free = len(r.free)
	return s
}
