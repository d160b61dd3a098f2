// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package devcaps negotiates the graphics-device capabilities the accelerated
// frame path needs.
//
// Cross-process texture sharing on Vulkan requires external-memory device
// extensions that must be requested when the device is created. A Negotiator
// exposes a pre-initialization hook that the code creating the host device
// calls with its DeviceRequest before finalizing it:
//
//	n := devcaps.NewNegotiator()
//	req := &devcaps.DeviceRequest{Backend: gputypes.BackendVulkan, Supported: physicalDeviceHas}
//	n.Hook()(req)
//	// create the device with req.Extensions
//
// Unsupported extensions are dropped from the request rather than failing
// device creation. When a required extension is missing the Report records
// that the accelerated path is unavailable for the session and instances use
// software frames. Optional extensions (external semaphores, DRM format
// modifiers) are enabled when offered and only listed in Report.Skipped
// otherwise.
//
// The hook must run before any accelerated instance starts. A late run is
// detected and reported instead of silently degrading.
package devcaps
