// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bridge

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/webtex/frame"
)

// DefaultPoolSize is the number of retired host textures kept for reuse.
const DefaultPoolSize = 4

// textureDestroyer matches the Destroy method of host textures.
type textureDestroyer interface {
	Destroy()
}

func destroy(t any) {
	if d, ok := t.(textureDestroyer); ok {
		d.Destroy()
	}
}

// PublisherStats counts host texture operations.
type PublisherStats struct {
	Created       int
	Reused        int // textures taken back from the pool
	Evicted       int // pooled textures destroyed
	FullUploads   int
	RegionUploads int
}

// Publisher turns Views into host textures.
//
// Software views are uploaded into a texture of the view's size: only the
// damaged region when the texture supports gpucontext.TextureRegionUpdater,
// the whole frame otherwise. When the size changes the old texture is
// retired into a small LRU pool keyed by size, so toggling between sizes
// does not reallocate. A retired texture enters the pool only after the
// replacement was created, because the GPU may still be sampling it.
//
// Accelerated views already carry a host texture and are passed through.
//
// Publisher is not safe for concurrent use; it belongs to the render loop.
type Publisher struct {
	texture gpucontext.Texture // software texture of size
	size    frame.Size
	old     gpucontext.Texture // retired, awaiting the next creation
	oldSize frame.Size
	shown   gpucontext.Texture // last published texture of either path
	pool    *lru.Cache[frame.Size, gpucontext.Texture]
	taking  bool
	closed  bool
	stats   PublisherStats
}

// NewPublisher creates a publisher keeping up to poolSize retired textures.
// A poolSize <= 0 selects DefaultPoolSize.
func NewPublisher(poolSize int) (*Publisher, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	p := &Publisher{}
	pool, err := lru.NewWithEvict[frame.Size, gpucontext.Texture](poolSize, p.evicted)
	if err != nil {
		return nil, fmt.Errorf("bridge: texture pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

func (p *Publisher) evicted(size frame.Size, t gpucontext.Texture) {
	if p.taking {
		return
	}
	p.stats.Evicted++
	slogger().Debug("bridge: destroying pooled texture", "size", size)
	destroy(t)
}

// Publish makes v drawable and returns its host texture. creator is only
// needed when a new texture has to be allocated. Unavailable views return a
// nil texture; the host draws its own placeholder.
func (p *Publisher) Publish(creator gpucontext.TextureCreator, v View) (gpucontext.Texture, error) {
	if p.closed {
		return nil, ErrPublisherClosed
	}

	switch {
	case v.Unavailable:
		p.shown = nil
		return nil, nil
	case v.Texture != nil:
		t, ok := v.Texture.Texture().(gpucontext.Texture)
		if !ok {
			return nil, ErrNotDrawable
		}
		p.shown = t
		return t, nil
	case v.Frame == nil:
		return p.shown, nil
	}

	if v.Frame.Format != gputypes.TextureFormatRGBA8Unorm {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, v.Frame.Format)
	}
	if p.texture != nil && p.size != v.Size {
		p.retire()
	}
	if p.texture == nil {
		if err := p.allocate(creator, v); err != nil {
			return nil, err
		}
		p.shown = p.texture
		return p.texture, nil
	}
	if err := p.upload(v); err != nil {
		return nil, err
	}
	p.shown = p.texture
	return p.texture, nil
}

// Draw draws the most recently published texture at (x, y).
// It is a no-op before the first Publish and for unavailable views.
func (p *Publisher) Draw(dc gpucontext.TextureDrawer, x, y float32) error {
	if p.closed {
		return ErrPublisherClosed
	}
	if p.shown == nil {
		return nil
	}
	return dc.DrawTexture(p.shown, x, y)
}

// Texture returns the most recently published texture, or nil.
func (p *Publisher) Texture() gpucontext.Texture { return p.shown }

// Stats returns the publisher counters.
func (p *Publisher) Stats() PublisherStats { return p.stats }

// Pooled returns the number of retired textures held for reuse.
func (p *Publisher) Pooled() int { return p.pool.Len() }

// Close destroys every texture the publisher owns. It is idempotent.
// Accelerated textures are owned by their Instance and are not touched.
func (p *Publisher) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.old != nil {
		destroy(p.old)
		p.old = nil
	}
	if p.texture != nil {
		destroy(p.texture)
		p.texture = nil
	}
	p.pool.Purge()
	p.shown = nil
	return nil
}

func (p *Publisher) retire() {
	if p.old != nil {
		p.stash(p.oldSize, p.old)
	}
	p.old, p.oldSize = p.texture, p.size
	p.texture, p.size = nil, frame.Size{}
}

// allocate provides a texture of v's size, from the pool when possible, and
// fills it with v's pixels.
func (p *Publisher) allocate(creator gpucontext.TextureCreator, v View) error {
	if t := p.take(v.Size); t != nil {
		if u, ok := t.(gpucontext.TextureUpdater); ok {
			if err := u.UpdateData(v.Frame.Tight()); err != nil {
				destroy(t)
				return fmt.Errorf("bridge: texture update failed: %w", err)
			}
			p.stats.Reused++
			p.stats.FullUploads++
			p.install(t, v.Size)
			return nil
		}
		destroy(t)
	}

	if creator == nil {
		return ErrNoCreator
	}
	t, err := creator.NewTextureFromRGBA(v.Size.Width, v.Size.Height, v.Frame.Tight())
	if err != nil {
		return fmt.Errorf("bridge: NewTextureFromRGBA failed: %w", err)
	}
	// Engine pixels are premultiplied.
	if pt, ok := t.(interface{ SetPremultiplied(bool) }); ok {
		pt.SetPremultiplied(true)
	}
	p.stats.Created++
	p.stats.FullUploads++
	p.install(t, v.Size)
	return nil
}

// install makes t current. The retired texture may now enter the pool: the
// upload into t waited for the GPU.
func (p *Publisher) install(t gpucontext.Texture, size frame.Size) {
	p.texture, p.size = t, size
	if p.old != nil {
		p.stash(p.oldSize, p.old)
		p.old = nil
	}
}

func (p *Publisher) stash(size frame.Size, t gpucontext.Texture) {
	if present, _ := p.pool.ContainsOrAdd(size, t); present {
		destroy(t)
	}
}

func (p *Publisher) take(size frame.Size) gpucontext.Texture {
	t, ok := p.pool.Peek(size)
	if !ok {
		return nil
	}
	p.taking = true
	p.pool.Remove(size)
	p.taking = false
	return t
}

func (p *Publisher) upload(v View) error {
	full := frame.Rect{Width: v.Size.Width, Height: v.Size.Height}
	dmg := v.Damage.Intersect(full)
	if dmg.Empty() {
		return nil
	}
	if dmg != full {
		if ru, ok := p.texture.(gpucontext.TextureRegionUpdater); ok {
			if err := ru.UpdateRegion(dmg.X, dmg.Y, dmg.Width, dmg.Height, regionPixels(v.Frame, dmg)); err != nil {
				return fmt.Errorf("bridge: texture region update failed: %w", err)
			}
			p.stats.RegionUploads++
			return nil
		}
	}
	if u, ok := p.texture.(gpucontext.TextureUpdater); ok {
		if err := u.UpdateData(v.Frame.Tight()); err != nil {
			return fmt.Errorf("bridge: texture update failed: %w", err)
		}
		p.stats.FullUploads++
	}
	return nil
}

// regionPixels copies r out of a 4-byte-per-pixel software frame, tightly
// packed.
func regionPixels(f *frame.Frame, r frame.Rect) []byte {
	row := r.Width * 4
	out := make([]byte, row*r.Height)
	for y := 0; y < r.Height; y++ {
		off := (r.Y+y)*f.Software.Stride + r.X*4
		copy(out[y*row:(y+1)*row], f.Software.Pixels[off:off+row])
	}
	return out
}
