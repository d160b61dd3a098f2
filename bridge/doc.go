// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package bridge moves engine frames into the host's render loop.
//
// An [Instance] is the per-browser-instance frame pump. The transport
// goroutine hands it frames with [Instance.Offer]; the host render loop calls
// [Instance.PollFrame] once per tick and never blocks. Only the newest frame
// is kept, older pending frames are released the moment they are superseded,
// and a frame whose size does not match the most recently requested size is
// never surfaced as-is.
//
// Accelerated frames are imported through a [gpushare.Exchange]. After a
// bounded number of consecutive import failures the instance falls back to
// the software path for the rest of its life.
//
// A [Publisher] turns the resulting [View] into a host texture through the
// gpucontext texture interfaces, reusing textures of recently seen sizes.
//
// # Example
//
//	inst := bridge.NewInstance(id, bridge.Config{
//	    Size:     frame.Size{Width: 800, Height: 600},
//	    Path:     bridge.PathAccelerated,
//	    Exchange: exchange,
//	})
//
//	// transport goroutine
//	inst.Offer(f)
//
//	// host render loop
//	if v, ok := inst.PollFrame(); ok {
//	    tex, err := pub.Publish(dc.TextureCreator(), v)
//	    ...
//	}
package bridge
