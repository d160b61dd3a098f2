// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"math/bits"
	"sync/atomic"
)

// DamageTile is the edge length, in pixels, of one damage-tracking tile.
const DamageTile = 64

// Damage accumulates the regions of a frame that changed since the host last
// uploaded it, at tile granularity. One bit per tile is kept in atomic words,
// so the transport goroutine can mark while the host goroutine takes.
//
// Several frames may be adopted between two uploads; their damage unions.
type Damage struct {
	words  []atomic.Uint64
	size   Size
	tilesX int
	tilesY int
}

// NewDamage creates a tracker for a frame of the given size with every tile
// marked dirty, so the first upload is always complete.
// Returns nil for an empty size.
func NewDamage(size Size) *Damage {
	if size.Empty() {
		return nil
	}
	tx := (size.Width + DamageTile - 1) / DamageTile
	ty := (size.Height + DamageTile - 1) / DamageTile
	d := &Damage{
		words:  make([]atomic.Uint64, (tx*ty+63)/64),
		size:   size,
		tilesX: tx,
		tilesY: ty,
	}
	d.MarkAll()
	return d
}

// Size returns the frame size the tracker covers.
func (d *Damage) Size() Size {
	return d.size
}

func (d *Damage) mark(tx, ty int) {
	idx := ty*d.tilesX + tx
	d.words[idx/64].Or(1 << (idx & 63))
}

// MarkRect marks every tile intersecting r. Parts of r outside the frame are
// ignored.
func (d *Damage) MarkRect(r Rect) {
	r = r.Intersect(Rect{Width: d.size.Width, Height: d.size.Height})
	if r.Empty() {
		return
	}
	tx1, ty1 := r.X/DamageTile, r.Y/DamageTile
	tx2, ty2 := (r.X+r.Width-1)/DamageTile, (r.Y+r.Height-1)/DamageTile
	for ty := ty1; ty <= ty2; ty++ {
		for tx := tx1; tx <= tx2; tx++ {
			d.mark(tx, ty)
		}
	}
}

// MarkAll marks the whole frame dirty.
func (d *Damage) MarkAll() {
	total := d.tilesX * d.tilesY
	full := total / 64
	for i := 0; i < full; i++ {
		d.words[i].Store(^uint64(0))
	}
	if rem := total % 64; rem > 0 {
		d.words[full].Store(uint64(1)<<rem - 1)
	}
}

// IsEmpty reports whether no tile is dirty.
func (d *Damage) IsEmpty() bool {
	for i := range d.words {
		if d.words[i].Load() != 0 {
			return false
		}
	}
	return true
}

// TakeBounds clears the tracker and returns the pixel bounding box of the
// tiles that were dirty, clipped to the frame. It returns an empty Rect when
// nothing changed.
func (d *Damage) TakeBounds() Rect {
	total := d.tilesX * d.tilesY
	minX, minY := d.tilesX, d.tilesY
	maxX, maxY := -1, -1

	for wi := range d.words {
		word := d.words[wi].Swap(0)
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &^= 1 << bit
			idx := wi*64 + bit
			if idx >= total {
				break
			}
			tx, ty := idx%d.tilesX, idx/d.tilesX
			minX, maxX = min(minX, tx), max(maxX, tx)
			minY, maxY = min(minY, ty), max(maxY, ty)
		}
	}
	if maxX < 0 {
		return Rect{}
	}
	r := Rect{
		X:      minX * DamageTile,
		Y:      minY * DamageTile,
		Width:  (maxX - minX + 1) * DamageTile,
		Height: (maxY - minY + 1) * DamageTile,
	}
	return r.Intersect(Rect{Width: d.size.Width, Height: d.size.Height})
}
