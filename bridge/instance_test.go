// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/webtex/frame"
	"github.com/gogpu/webtex/gpushare"
)

// swFrame returns a tightly packed RGBA frame filled with fill. released is
// incremented when the frame is released.
func swFrame(seq uint64, size frame.Size, fill byte, released *int) *frame.Frame {
	px := make([]byte, size.Width*size.Height*4)
	for i := range px {
		px[i] = fill
	}
	return frame.NewSoftware(seq, size, gputypes.TextureFormatRGBA8Unorm, size.Width*4, px, func() {
		if released != nil {
			*released++
		}
	})
}

type importedTex struct {
	mu       sync.Mutex
	released bool
}

func (t *importedTex) Texture() any { return t }
func (t *importedTex) Release() {
	t.mu.Lock()
	t.released = true
	t.mu.Unlock()
}

func (t *importedTex) isReleased() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

type accelRig struct {
	id       uuid.UUID
	arena    *gpushare.Arena
	exchange *gpushare.Exchange
	fail     bool
	imported []*importedTex

	mu       sync.Mutex
	released []uint64
}

func newAccelRig(t *testing.T, importerAdapter []byte) *accelRig {
	t.Helper()
	r := &accelRig{id: uuid.New()}
	r.arena = gpushare.NewArena(func(h gpushare.CrossProcessHandle) {
		r.mu.Lock()
		r.released = append(r.released, h.Token)
		r.mu.Unlock()
	})
	reg := gpushare.NewRegistry()
	reg.Register("test", gpushare.HandleIOSurface, 10, func() (gpushare.Importer, error) {
		return gpushare.ImporterFunc(func(h gpushare.CrossProcessHandle) (gpushare.ImportedTexture, error) {
			if r.fail {
				return nil, errors.New("driver refused")
			}
			tex := &importedTex{}
			r.imported = append(r.imported, tex)
			return tex, nil
		}), nil
	}, nil)
	r.exchange = gpushare.NewExchange(reg, importerAdapter)
	return r
}

func (r *accelRig) frame(t *testing.T, token uint64, size frame.Size) *frame.Frame {
	t.Helper()
	slot, err := r.arena.Acquire(gpushare.CrossProcessHandle{
		Kind:     gpushare.HandleIOSurface,
		Value:    uintptr(token),
		Token:    token,
		Instance: r.id,
		Width:    uint32(size.Width),
		Height:   uint32(size.Height),
		Format:   gputypes.TextureFormatBGRA8Unorm,
		Adapter:  []byte{1},
		Sync:     gpushare.SyncToken{Kind: gpushare.SyncFence, Value: token},
	})
	if err != nil {
		t.Fatalf("Acquire(%d): %v", token, err)
	}
	return frame.NewAccelerated(token, slot)
}

func (r *accelRig) releasedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

func TestPollFrameFollowsResize(t *testing.T) {
	inst := NewInstance(uuid.New(), Config{
		Size:   frame.Size{Width: 800, Height: 600},
		Resize: ResizeHold,
	})

	if _, ok := inst.PollFrame(); ok {
		t.Fatal("PollFrame before any frame returned a view")
	}

	inst.Offer(swFrame(1, frame.Size{Width: 800, Height: 600}, 1, nil))
	v, ok := inst.PollFrame()
	if !ok || v.Size != (frame.Size{Width: 800, Height: 600}) {
		t.Fatalf("PollFrame = %v %v, want 800x600", v.Size, ok)
	}
	if _, ok := inst.PollFrame(); ok {
		t.Error("second PollFrame without a new frame returned a view")
	}

	if err := inst.Resize(frame.Size{Width: 1024, Height: 768}); err != nil {
		t.Fatal(err)
	}

	// A frame rendered before the engine saw the resize.
	var dropped int
	inst.Offer(swFrame(2, frame.Size{Width: 800, Height: 600}, 2, &dropped))
	if v, ok := inst.PollFrame(); ok {
		t.Fatalf("stale-size frame surfaced as %v", v.Size)
	}
	if dropped != 1 {
		t.Errorf("stale-size frame released %d times, want 1", dropped)
	}

	inst.Offer(swFrame(3, frame.Size{Width: 1024, Height: 768}, 3, nil))
	v, ok = inst.PollFrame()
	if !ok || v.Size != (frame.Size{Width: 1024, Height: 768}) || v.Seq != 3 {
		t.Fatalf("PollFrame = %v seq %d, want 1024x768 seq 3", v.Size, v.Seq)
	}
	if got := inst.Stats().Mismatched; got != 1 {
		t.Errorf("Mismatched = %d, want 1", got)
	}
}

func TestResizeLetterboxesLastFrame(t *testing.T) {
	inst := NewInstance(uuid.New(), Config{Size: frame.Size{Width: 8, Height: 4}})

	var released int
	inst.Offer(swFrame(1, frame.Size{Width: 8, Height: 4}, 0xff, &released))
	if _, ok := inst.PollFrame(); !ok {
		t.Fatal("no initial view")
	}

	if err := inst.Resize(frame.Size{Width: 4, Height: 4}); err != nil {
		t.Fatal(err)
	}
	v, ok := inst.PollFrame()
	if !ok {
		t.Fatal("no letterboxed view after resize")
	}
	if !v.Letterboxed || v.Size != (frame.Size{Width: 4, Height: 4}) || v.Frame.Size != v.Size {
		t.Fatalf("view = %+v, want letterboxed 4x4", v)
	}
	if v.Seq != 1 {
		t.Errorf("letterboxed Seq = %d, want 1", v.Seq)
	}
	if released != 1 {
		t.Errorf("source released %d times, want 1", released)
	}
	// 8x4 into 4x4 leaves a 4x2 band centered vertically.
	px := v.Frame.Software.Pixels
	if px[0] != 0 {
		t.Errorf("top bar pixel = %d, want 0", px[0])
	}
	if mid := px[(2*4+1)*4]; mid == 0 {
		t.Error("center pixel is empty")
	}
	if _, ok := inst.PollFrame(); ok {
		t.Error("letterbox repeated without a resize")
	}
}

func TestResizeRejectsEmpty(t *testing.T) {
	inst := NewInstance(uuid.New(), Config{Size: frame.Size{Width: 10, Height: 10}})
	if err := inst.Resize(frame.Size{}); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Resize(0x0) = %v, want ErrInvalidSize", err)
	}
	if inst.Target() != (frame.Size{Width: 10, Height: 10}) {
		t.Errorf("Target changed to %v", inst.Target())
	}
}

func TestOfferKeepsNewest(t *testing.T) {
	size := frame.Size{Width: 4, Height: 4}
	inst := NewInstance(uuid.New(), Config{Size: size})

	var r1, r2, r3 int
	if !inst.Offer(swFrame(1, size, 1, &r1)) {
		t.Fatal("Offer(1) rejected")
	}
	if !inst.Offer(swFrame(2, size, 2, &r2)) {
		t.Fatal("Offer(2) rejected")
	}
	if r1 != 1 {
		t.Error("superseded frame was not released")
	}
	if inst.Offer(swFrame(2, size, 9, &r3)) {
		t.Error("Offer accepted a frame that is not newer")
	}
	if r3 != 1 {
		t.Error("stale frame was not released")
	}

	v, ok := inst.PollFrame()
	if !ok || v.Seq != 2 || v.Frame.Software.Pixels[0] != 2 {
		t.Fatalf("PollFrame = seq %d ok %v", v.Seq, ok)
	}

	st := inst.Stats()
	if st.Superseded != 1 || st.Stale != 1 || st.Adopted != 1 || st.Offered != 3 {
		t.Errorf("Stats = %+v", st)
	}

	inst.Offer(swFrame(3, size, 3, nil))
	if _, ok := inst.PollFrame(); !ok {
		t.Fatal("no view for seq 3")
	}
	if r2 != 1 {
		t.Error("previous view was not released on adoption")
	}
}

func TestOfferConvertsBGRA(t *testing.T) {
	size := frame.Size{Width: 1, Height: 1}
	inst := NewInstance(uuid.New(), Config{Size: size})

	f := frame.NewSoftware(1, size, gputypes.TextureFormatBGRA8Unorm, 4, []byte{10, 20, 30, 40}, nil)
	inst.Offer(f)
	v, ok := inst.PollFrame()
	if !ok {
		t.Fatal("no view")
	}
	if v.Frame.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("Format = %v, want RGBA8Unorm", v.Frame.Format)
	}
	if got := v.Frame.Software.Pixels; got[0] != 30 || got[2] != 10 {
		t.Errorf("pixels = %v, want swizzled", got)
	}
}

func TestDamageAccumulatesAcrossSupersededFrames(t *testing.T) {
	size := frame.Size{Width: 256, Height: 256}
	inst := NewInstance(uuid.New(), Config{Size: size})

	inst.Offer(swFrame(1, size, 0, nil))
	v, _ := inst.PollFrame()
	if v.Damage != (frame.Rect{Width: 256, Height: 256}) {
		t.Fatalf("first damage = %v, want full frame", v.Damage)
	}

	f2 := swFrame(2, size, 0, nil)
	f2.Software.Damage = []frame.Rect{{X: 70, Y: 0, Width: 10, Height: 10}}
	f3 := swFrame(3, size, 0, nil)
	f3.Software.Damage = []frame.Rect{{X: 130, Y: 0, Width: 10, Height: 10}}
	inst.Offer(f2)
	inst.Offer(f3)

	v, ok := inst.PollFrame()
	if !ok || v.Seq != 3 {
		t.Fatalf("PollFrame = seq %d ok %v", v.Seq, ok)
	}
	if want := (frame.Rect{X: 64, Y: 0, Width: 128, Height: 64}); v.Damage != want {
		t.Errorf("Damage = %v, want %v", v.Damage, want)
	}
}

func TestPopupComposited(t *testing.T) {
	size := frame.Size{Width: 4, Height: 4}
	inst := NewInstance(uuid.New(), Config{Size: size})

	popup := make([]byte, 2*2*4)
	for i := range popup {
		popup[i] = 0xee
	}
	inst.SetPopup(&frame.Popup{Pixels: popup, Size: frame.Size{Width: 2, Height: 2}, X: 1, Y: 1})

	inst.Offer(swFrame(1, size, 0, nil))
	v, _ := inst.PollFrame()
	px := v.Frame.Software.Pixels
	if px[(1*4+1)*4] != 0xee || px[(2*4+2)*4] != 0xee {
		t.Error("popup not composited")
	}
	if px[0] != 0 || px[(3*4+3)*4] != 0 {
		t.Error("popup drawn outside its rectangle")
	}

	inst.SetPopup(nil)
	inst.Offer(swFrame(2, size, 0, nil))
	v, _ = inst.PollFrame()
	if v.Frame.Software.Pixels[(1*4+1)*4] != 0 {
		t.Error("hidden popup still composited")
	}
}

func TestAcceleratedImport(t *testing.T) {
	rig := newAccelRig(t, []byte{1})
	size := frame.Size{Width: 64, Height: 32}
	inst := NewInstance(rig.id, Config{Size: size, Path: PathAccelerated, Exchange: rig.exchange})

	inst.Offer(rig.frame(t, 1, size))
	v, ok := inst.PollFrame()
	if !ok || v.Path != PathAccelerated || v.Texture == nil {
		t.Fatalf("PollFrame = %+v %v, want accelerated view", v, ok)
	}
	if rig.releasedCount() != 1 {
		t.Errorf("handle releases = %d, want 1 after import", rig.releasedCount())
	}

	inst.Offer(rig.frame(t, 2, size))
	if _, ok := inst.PollFrame(); !ok {
		t.Fatal("second accelerated frame not adopted")
	}
	if !rig.imported[0].isReleased() {
		t.Error("superseded imported texture not released")
	}
	if rig.arena.Live(rig.id) != 0 {
		t.Errorf("live slots = %d, want 0", rig.arena.Live(rig.id))
	}
}

func TestFallbackAfterConsecutiveMismatches(t *testing.T) {
	rig := newAccelRig(t, []byte{9})
	size := frame.Size{Width: 64, Height: 32}

	var reasons []error
	inst := NewInstance(rig.id, Config{
		Size:       size,
		Path:       PathAccelerated,
		Exchange:   rig.exchange,
		OnFallback: func(err error) { reasons = append(reasons, err) },
	})

	for token := uint64(1); token <= 3; token++ {
		if inst.Path() != PathAccelerated {
			t.Fatalf("fell back after %d failures", token-1)
		}
		inst.Offer(rig.frame(t, token, size))
		if _, ok := inst.PollFrame(); ok {
			t.Fatalf("mismatched frame %d surfaced", token)
		}
	}

	if inst.Path() != PathSoftware {
		t.Fatal("still accelerated after 3 mismatches")
	}
	if len(reasons) != 1 || !errors.Is(reasons[0], gpushare.ErrAdapterMismatch) {
		t.Fatalf("OnFallback reasons = %v", reasons)
	}
	if !inst.Stats().Fallback || inst.Stats().ImportFailures != 3 {
		t.Errorf("Stats = %+v", inst.Stats())
	}

	// Late accelerated frames are returned to the engine.
	if inst.Offer(rig.frame(t, 4, size)) {
		t.Error("accelerated frame accepted after fallback")
	}
	if rig.releasedCount() != 4 {
		t.Errorf("handle releases = %d, want 4", rig.releasedCount())
	}

	inst.Offer(swFrame(5, size, 1, nil))
	if v, ok := inst.PollFrame(); !ok || v.Path != PathSoftware {
		t.Fatalf("software frame after fallback: %+v %v", v, ok)
	}

	if inst.Fallback(errors.New("again")) {
		t.Error("second Fallback reported a switch")
	}
	if len(reasons) != 1 {
		t.Errorf("OnFallback called %d times", len(reasons))
	}
}

func TestImportSuccessResetsFailureCount(t *testing.T) {
	rig := newAccelRig(t, []byte{1})
	size := frame.Size{Width: 64, Height: 32}
	inst := NewInstance(rig.id, Config{Size: size, Path: PathAccelerated, Exchange: rig.exchange})

	token := uint64(0)
	step := func(fail bool) {
		token++
		rig.fail = fail
		inst.Offer(rig.frame(t, token, size))
		inst.PollFrame()
	}
	step(true)
	step(true)
	step(false)
	step(true)
	step(true)

	if inst.Path() != PathAccelerated {
		t.Error("fell back although failures were not consecutive")
	}
	step(true)
	if inst.Path() != PathSoftware {
		t.Error("did not fall back after 3 consecutive failures")
	}
}

func TestNoExchangeFallsBack(t *testing.T) {
	rig := newAccelRig(t, nil)
	size := frame.Size{Width: 64, Height: 32}
	inst := NewInstance(rig.id, Config{Size: size, Path: PathAccelerated, FallbackThreshold: 1})

	inst.Offer(rig.frame(t, 1, size))
	inst.PollFrame()
	if inst.Path() != PathSoftware {
		t.Error("instance without exchange stayed accelerated")
	}
	if rig.releasedCount() != 1 {
		t.Errorf("handle releases = %d, want 1", rig.releasedCount())
	}
}

func TestDetachReleasesEverything(t *testing.T) {
	rig := newAccelRig(t, []byte{1})
	size := frame.Size{Width: 64, Height: 32}
	inst := NewInstance(rig.id, Config{Size: size, Path: PathAccelerated, Exchange: rig.exchange})

	inst.Offer(rig.frame(t, 1, size))
	inst.PollFrame()
	inst.Offer(rig.frame(t, 2, size)) // in flight

	if n := inst.Detach(); n != 2 {
		t.Errorf("Detach released %d, want 2", n)
	}
	if rig.arena.Live(rig.id) != 0 {
		t.Errorf("live slots after Detach = %d", rig.arena.Live(rig.id))
	}
	if !rig.imported[0].isReleased() {
		t.Error("current texture not released")
	}
	if n := inst.Detach(); n != 0 {
		t.Errorf("second Detach released %d", n)
	}

	if inst.Offer(rig.frame(t, 3, size)) {
		t.Error("Offer accepted after Detach")
	}
	if rig.arena.Live(rig.id) != 0 {
		t.Error("frame offered after Detach kept its slot")
	}
	if _, ok := inst.PollFrame(); ok {
		t.Error("PollFrame returned a view after Detach")
	}
	if err := inst.Resize(size); !errors.Is(err, ErrDetached) {
		t.Errorf("Resize after Detach = %v", err)
	}
}

func TestMarkUnavailable(t *testing.T) {
	size := frame.Size{Width: 4, Height: 4}
	inst := NewInstance(uuid.New(), Config{Size: size})

	var released int
	inst.Offer(swFrame(1, size, 1, &released))
	inst.PollFrame()

	inst.MarkUnavailable()
	v, ok := inst.PollFrame()
	if !ok || !v.Unavailable || v.Size != size {
		t.Fatalf("PollFrame = %+v %v, want unavailable placeholder", v, ok)
	}
	if released != 1 {
		t.Error("last frame not released for the placeholder")
	}
	if _, ok := inst.PollFrame(); ok {
		t.Error("placeholder returned twice")
	}
	if inst.Offer(swFrame(2, size, 1, nil)) {
		t.Error("Offer accepted after MarkUnavailable")
	}
}
