// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/gpushare"
)

func TestSizeScale(t *testing.T) {
	tests := []struct {
		in     Size
		factor float64
		want   Size
	}{
		{Size{800, 600}, 1, Size{800, 600}},
		{Size{800, 600}, 2, Size{1600, 1200}},
		{Size{801, 601}, 1.5, Size{1202, 902}},
		{Size{1, 1}, 0.25, Size{1, 1}},
		{Size{0, 10}, 2, Size{0, 20}},
		{Size{100, 50}, 0, Size{100, 50}},
	}
	for _, tt := range tests {
		if got := tt.in.Scale(tt.factor); got != tt.want {
			t.Errorf("%v.Scale(%v) = %v, want %v", tt.in, tt.factor, got, tt.want)
		}
	}
}

func TestRectUnionIntersect(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rect{X: 5, Y: 5, Width: 10, Height: 10}

	if got, want := a.Intersect(b), (Rect{5, 5, 5, 5}); got != want {
		t.Errorf("Intersect = %v, want %v", got, want)
	}
	if got, want := a.Union(b), (Rect{0, 0, 15, 15}); got != want {
		t.Errorf("Union = %v, want %v", got, want)
	}
	if got := a.Union(Rect{}); got != a {
		t.Errorf("Union with empty = %v, want %v", got, a)
	}
	if got := a.Intersect(Rect{X: 20, Y: 20, Width: 1, Height: 1}); !got.Empty() {
		t.Errorf("disjoint Intersect = %v, want empty", got)
	}
}

func TestFrameKinds(t *testing.T) {
	sw := NewSoftware(1, Size{2, 2}, gputypes.TextureFormatRGBA8Unorm, 8, make([]byte, 16), nil)
	if sw.Kind() != KindSoftware {
		t.Errorf("Kind = %v, want software", sw.Kind())
	}
	if u := Unavailable(Size{10, 10}); u.Kind() != KindUnavailable || u.Size != (Size{10, 10}) {
		t.Errorf("Unavailable = %v %v", u.Kind(), u.Size)
	}

	var released []uint64
	arena := gpushare.NewArena(func(h gpushare.CrossProcessHandle) { released = append(released, h.Token) })
	slot, err := arena.Acquire(gpushare.CrossProcessHandle{
		Kind:     gpushare.HandleIOSurface,
		Value:    42,
		Token:    3,
		Instance: uuid.New(),
		Width:    320,
		Height:   200,
		Format:   gputypes.TextureFormatBGRA8Unorm,
		Sync:     gpushare.SyncToken{Kind: gpushare.SyncImplicit},
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	acc := NewAccelerated(5, slot)
	if acc.Kind() != KindAccelerated || acc.Size != (Size{320, 200}) || acc.Format != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("accelerated frame = %v %v %v", acc.Kind(), acc.Size, acc.Format)
	}
	if acc.Accelerated.Handle().Token != 3 {
		t.Error("Handle should expose the slot's handle")
	}
	acc.Release()
	acc.Release()
	if len(released) != 1 || !slot.Released() {
		t.Errorf("releases = %v, slot released = %v", released, slot.Released())
	}
}

func TestFrameReleaseOnce(t *testing.T) {
	calls := 0
	f := NewSoftware(1, Size{1, 1}, gputypes.TextureFormatRGBA8Unorm, 4, make([]byte, 4), func() { calls++ })
	f.Release()
	f.Release()
	if calls != 1 || !f.Released() {
		t.Errorf("release calls = %d, released = %v", calls, f.Released())
	}

	var nilFrame *Frame
	nilFrame.Release()
}

func TestFrameValidate(t *testing.T) {
	rgba := gputypes.TextureFormatRGBA8Unorm
	tests := []struct {
		name string
		f    *Frame
		ok   bool
	}{
		{"tight", NewSoftware(1, Size{4, 2}, rgba, 16, make([]byte, 32), nil), true},
		{"padded stride", NewSoftware(1, Size{4, 2}, rgba, 20, make([]byte, 36), nil), true},
		{"short buffer", NewSoftware(1, Size{4, 2}, rgba, 16, make([]byte, 31), nil), false},
		{"narrow stride", NewSoftware(1, Size{4, 2}, rgba, 12, make([]byte, 32), nil), false},
		{"empty size", NewSoftware(1, Size{0, 2}, rgba, 0, nil, nil), false},
		{"bad format", NewSoftware(1, Size{1, 1}, gputypes.TextureFormatUndefined, 4, make([]byte, 4), nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Validate = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestFrameTight(t *testing.T) {
	px := []byte{
		1, 2, 3, 4, 9, 9,
		5, 6, 7, 8, 9, 9,
	}
	f := NewSoftware(1, Size{1, 2}, gputypes.TextureFormatRGBA8Unorm, 6, px, nil)
	got := f.Tight()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if string(got) != string(want) {
		t.Errorf("Tight = %v, want %v", got, want)
	}
}

func TestConvertInPlace(t *testing.T) {
	px := []byte{10, 20, 30, 255, 0, 0, 1, 2, 40, 50, 60, 128}
	f := NewSoftware(1, Size{2, 1}, gputypes.TextureFormatBGRA8Unorm, 12, px, nil)
	if err := ConvertInPlace(f, gputypes.TextureFormatRGBA8Unorm); err != nil {
		t.Fatal(err)
	}
	want := []byte{30, 20, 10, 255, 1, 0, 0, 2, 40, 50, 60, 128}
	if string(f.Software.Pixels) != string(want) {
		t.Errorf("pixels = %v, want %v (padding untouched)", f.Software.Pixels, want)
	}
	if f.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("Format = %v", f.Format)
	}
	if err := ConvertInPlace(f, gputypes.TextureFormatUndefined); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("err = %v, want ErrInvalidFrame", err)
	}
}

func TestRingReuse(t *testing.T) {
	r := NewRing(2)
	size := Size{4, 4}
	rgba := gputypes.TextureFormatRGBA8Unorm

	f1 := r.NewFrame(1, size, rgba)
	f2 := r.NewFrame(2, size, rgba)
	f3 := r.NewFrame(3, size, rgba)
	f1.Release()
	f2.Release()
	f3.Release()

	st := r.Stats()
	if st.Allocated != 3 || st.Free != 2 {
		t.Errorf("stats = %+v, want 3 allocated, 2 free", st)
	}

	f4 := r.NewFrame(4, size, rgba)
	if r.Stats().Reused != 1 {
		t.Error("expected a reused buffer")
	}
	if err := f4.Validate(); err != nil {
		t.Errorf("ring frame invalid: %v", err)
	}

	// A resize drops idle buffers of the old size.
	f5 := r.NewFrame(5, Size{8, 8}, rgba)
	f4.Release()
	if r.Stats().Free != 0 {
		t.Error("stale-size buffer must not be recycled")
	}
	f5.Release()
	if r.Stats().Free != 1 {
		t.Error("current-size buffer should be recycled")
	}
}

func TestCompositePopupClips(t *testing.T) {
	rgba := gputypes.TextureFormatRGBA8Unorm
	dst := NewSoftware(1, Size{4, 4}, rgba, 16, make([]byte, 64), nil)
	popup := Popup{Size: Size{2, 2}, X: 3, Y: -1, Pixels: make([]byte, 16)}
	for i := range popup.Pixels {
		popup.Pixels[i] = 0xFF
	}

	got := CompositePopup(dst, popup)
	if want := (Rect{X: 3, Y: 0, Width: 1, Height: 1}); got != want {
		t.Fatalf("area = %v, want %v", got, want)
	}
	for i, b := range dst.Software.Pixels {
		inside := i >= 12 && i < 16
		if inside && b != 0xFF {
			t.Fatalf("pixel byte %d = %d, want 255", i, b)
		}
		if !inside && b != 0 {
			t.Fatalf("byte %d outside popup written", i)
		}
	}

	if r := CompositePopup(dst, Popup{Size: Size{2, 2}, X: 10, Y: 10, Pixels: popup.Pixels}); !r.Empty() {
		t.Errorf("off-screen popup area = %v", r)
	}
}

func TestDamage(t *testing.T) {
	d := NewDamage(Size{200, 100})
	if d.IsEmpty() {
		t.Fatal("new tracker should be fully dirty")
	}
	if got, want := d.TakeBounds(), (Rect{0, 0, 200, 100}); got != want {
		t.Errorf("initial bounds = %v, want %v", got, want)
	}
	if !d.IsEmpty() {
		t.Error("TakeBounds should clear")
	}

	d.MarkRect(Rect{X: 70, Y: 10, Width: 5, Height: 5})
	d.MarkRect(Rect{X: 130, Y: 70, Width: 100, Height: 100})
	if got, want := d.TakeBounds(), (Rect{64, 0, 136, 100}); got != want {
		t.Errorf("bounds = %v, want %v", got, want)
	}
	if got := d.TakeBounds(); !got.Empty() {
		t.Errorf("second TakeBounds = %v, want empty", got)
	}

	if NewDamage(Size{}) != nil {
		t.Error("empty size should yield nil tracker")
	}
}

func TestLetterbox(t *testing.T) {
	if got, want := LetterboxRect(Size{200, 100}, Size{100, 100}), (Rect{0, 25, 100, 50}); got != want {
		t.Errorf("LetterboxRect = %v, want %v", got, want)
	}
	if got, want := LetterboxRect(Size{100, 200}, Size{100, 100}), (Rect{25, 0, 50, 100}); got != want {
		t.Errorf("LetterboxRect = %v, want %v", got, want)
	}

	rgba := gputypes.TextureFormatRGBA8Unorm
	src := NewSoftware(7, Size{4, 2}, rgba, 16, make([]byte, 32), nil)
	for i := range src.Software.Pixels {
		src.Software.Pixels[i] = 200
	}
	out := Letterbox(src, Size{4, 4}, NewRing(2))
	if out == nil {
		t.Fatal("Letterbox returned nil")
	}
	if out.Seq != 7 || out.Size != (Size{4, 4}) {
		t.Errorf("out = seq %d size %v", out.Seq, out.Size)
	}
	// Top bar row is transparent, middle rows carry content.
	if out.Software.Pixels[3] != 0 {
		t.Errorf("bar alpha = %d, want 0", out.Software.Pixels[3])
	}
	if mid := out.Software.Pixels[1*16+3]; mid == 0 {
		t.Error("content row should be opaque")
	}
}
