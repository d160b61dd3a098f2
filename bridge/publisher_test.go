// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bridge

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/frame"
)

// mockTexture implements gpucontext.Texture, TextureUpdater and
// TextureRegionUpdater.
type mockTexture struct {
	width, height int
	data          []byte
	updates       int
	regions       []frame.Rect
	regionData    [][]byte
	destroyed     bool
	premultiplied bool
}

func (m *mockTexture) Width() int  { return m.width }
func (m *mockTexture) Height() int { return m.height }

func (m *mockTexture) UpdateData(data []byte) error {
	m.data = append(m.data[:0], data...)
	m.updates++
	return nil
}

func (m *mockTexture) UpdateRegion(x, y, w, h int, data []byte) error {
	m.regions = append(m.regions, frame.Rect{X: x, Y: y, Width: w, Height: h})
	m.regionData = append(m.regionData, append([]byte(nil), data...))
	return nil
}

func (m *mockTexture) Destroy()                 { m.destroyed = true }
func (m *mockTexture) SetPremultiplied(pm bool) { m.premultiplied = pm }

type mockCreator struct {
	created []*mockTexture
	err     error
}

func (m *mockCreator) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	if m.err != nil {
		return nil, m.err
	}
	tex := &mockTexture{width: width, height: height, data: append([]byte(nil), data...)}
	m.created = append(m.created, tex)
	return tex, nil
}

type mockDrawer struct {
	creator *mockCreator
	drawn   []gpucontext.Texture
}

func (m *mockDrawer) DrawTexture(tex gpucontext.Texture, x, y float32) error {
	m.drawn = append(m.drawn, tex)
	return nil
}

func (m *mockDrawer) TextureCreator() gpucontext.TextureCreator { return m.creator }

func softwareView(seq uint64, size frame.Size, fill byte) View {
	return View{
		Seq:    seq,
		Size:   size,
		Frame:  swFrame(seq, size, fill, nil),
		Damage: frame.Rect{Width: size.Width, Height: size.Height},
	}
}

func newTestPublisher(t *testing.T, poolSize int) *Publisher {
	t.Helper()
	p, err := NewPublisher(poolSize)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPublisherCreatesThenUpdates(t *testing.T) {
	p := newTestPublisher(t, 0)
	c := &mockCreator{}
	size := frame.Size{Width: 4, Height: 4}

	tex, err := p.Publish(c, softwareView(1, size, 7))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(c.created) != 1 || tex != c.created[0] {
		t.Fatalf("created %d textures", len(c.created))
	}
	if !c.created[0].premultiplied {
		t.Error("texture not marked premultiplied")
	}

	// Full damage goes through UpdateData.
	if _, err := p.Publish(c, softwareView(2, size, 8)); err != nil {
		t.Fatal(err)
	}
	mt := c.created[0]
	if mt.updates != 1 || mt.data[0] != 8 {
		t.Errorf("UpdateData calls = %d, first byte = %d", mt.updates, mt.data[0])
	}

	// Partial damage goes through UpdateRegion with tightly packed rows.
	v := softwareView(3, size, 0)
	px := v.Frame.Software.Pixels
	px[(1*4+2)*4] = 0xaa
	v.Damage = frame.Rect{X: 2, Y: 1, Width: 2, Height: 2}
	if _, err := p.Publish(c, v); err != nil {
		t.Fatal(err)
	}
	if len(mt.regions) != 1 || mt.regions[0] != v.Damage {
		t.Fatalf("regions = %v, want [%v]", mt.regions, v.Damage)
	}
	if got := mt.regionData[0]; len(got) != 2*2*4 || got[0] != 0xaa {
		t.Errorf("region data = %v", got)
	}
	if len(c.created) != 1 {
		t.Errorf("same-size publishes created %d textures", len(c.created))
	}

	st := p.Stats()
	if st.Created != 1 || st.FullUploads != 2 || st.RegionUploads != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestPublisherReusesPooledSize(t *testing.T) {
	p := newTestPublisher(t, 4)
	c := &mockCreator{}
	a := frame.Size{Width: 4, Height: 4}
	b := frame.Size{Width: 8, Height: 8}

	p.Publish(c, softwareView(1, a, 1))
	texA := c.created[0]

	p.Publish(c, softwareView(2, b, 2))
	if texA.destroyed {
		t.Fatal("retired texture destroyed instead of pooled")
	}
	if p.Pooled() != 1 {
		t.Errorf("Pooled = %d, want 1", p.Pooled())
	}

	tex, err := p.Publish(c, softwareView(3, a, 3))
	if err != nil {
		t.Fatal(err)
	}
	if tex != texA {
		t.Error("pooled texture of the same size not reused")
	}
	if texA.destroyed || texA.data[0] != 3 {
		t.Errorf("reused texture destroyed=%v first byte=%d", texA.destroyed, texA.data[0])
	}
	if len(c.created) != 2 {
		t.Errorf("created %d textures, want 2", len(c.created))
	}
	if st := p.Stats(); st.Reused != 1 || st.Evicted != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestPublisherEvictsOldest(t *testing.T) {
	p := newTestPublisher(t, 1)
	c := &mockCreator{}

	for i, w := range []int{2, 3, 4} {
		if _, err := p.Publish(c, softwareView(uint64(i+1), frame.Size{Width: w, Height: w}, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if !c.created[0].destroyed {
		t.Error("oldest pooled texture not destroyed on eviction")
	}
	if c.created[1].destroyed || c.created[2].destroyed {
		t.Error("live or pooled texture destroyed")
	}
	if p.Stats().Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", p.Stats().Evicted)
	}
}

func TestPublisherAcceleratedPassThrough(t *testing.T) {
	p := newTestPublisher(t, 0)
	hostTex := &mockTexture{width: 64, height: 32}

	got, err := p.Publish(nil, View{Path: PathAccelerated, Texture: passTexture{hostTex}})
	if err != nil {
		t.Fatal(err)
	}
	if got != hostTex {
		t.Error("accelerated texture not passed through")
	}

	if _, err := p.Publish(nil, View{Texture: passTexture{"not a texture"}}); !errors.Is(err, ErrNotDrawable) {
		t.Errorf("Publish(non-texture) = %v, want ErrNotDrawable", err)
	}
}

type passTexture struct{ v any }

func (p passTexture) Texture() any { return p.v }
func (p passTexture) Release()     {}

func TestPublisherErrors(t *testing.T) {
	p := newTestPublisher(t, 0)
	size := frame.Size{Width: 2, Height: 2}

	if _, err := p.Publish(nil, softwareView(1, size, 0)); !errors.Is(err, ErrNoCreator) {
		t.Errorf("Publish without creator = %v, want ErrNoCreator", err)
	}

	bgra := softwareView(2, size, 0)
	bgra.Frame.Format = gputypes.TextureFormatBGRA8Unorm
	if _, err := p.Publish(&mockCreator{}, bgra); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Publish(BGRA) = %v, want ErrUnsupportedFormat", err)
	}

	boom := errors.New("out of memory")
	if _, err := p.Publish(&mockCreator{err: boom}, softwareView(3, size, 0)); !errors.Is(err, boom) {
		t.Errorf("Publish with failing creator = %v", err)
	}

	tex, err := p.Publish(nil, View{Unavailable: true, Size: size})
	if err != nil || tex != nil {
		t.Errorf("Publish(unavailable) = %v, %v; want nil, nil", tex, err)
	}
}

func TestPublisherDrawAndClose(t *testing.T) {
	p := newTestPublisher(t, 2)
	c := &mockCreator{}
	dc := &mockDrawer{creator: c}

	if err := p.Draw(dc, 0, 0); err != nil || len(dc.drawn) != 0 {
		t.Fatalf("Draw before Publish = %v, drew %d", err, len(dc.drawn))
	}

	p.Publish(dc.TextureCreator(), softwareView(1, frame.Size{Width: 2, Height: 2}, 1))
	p.Publish(dc.TextureCreator(), softwareView(2, frame.Size{Width: 3, Height: 3}, 1))
	if err := p.Draw(dc, 10, 20); err != nil {
		t.Fatal(err)
	}
	if len(dc.drawn) != 1 || dc.drawn[0] != c.created[1] {
		t.Error("Draw did not draw the latest texture")
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	for i, tex := range c.created {
		if !tex.destroyed {
			t.Errorf("texture %d not destroyed by Close", i)
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := p.Publish(c, softwareView(3, frame.Size{Width: 2, Height: 2}, 1)); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Publish after Close = %v", err)
	}
	if err := p.Draw(dc, 0, 0); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Draw after Close = %v", err)
	}
}

func TestPollThenPublish(t *testing.T) {
	size := frame.Size{Width: 800, Height: 600}
	inst := NewInstance(uuid.New(), Config{Size: size})
	p := newTestPublisher(t, 0)
	c := &mockCreator{}

	inst.Offer(swFrame(1, size, 5, nil))
	v, ok := inst.PollFrame()
	if !ok {
		t.Fatal("no view")
	}
	tex, err := p.Publish(c, v)
	if err != nil {
		t.Fatal(err)
	}
	if tex.Width() != 800 || tex.Height() != 600 {
		t.Errorf("texture = %dx%d, want 800x600", tex.Width(), tex.Height())
	}
}
