// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package devcaps

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
)

func supportsAllBut(missing ...string) func(string) bool {
	return func(name string) bool {
		return !slices.Contains(missing, name)
	}
}

func TestNegotiateVulkanLinux(t *testing.T) {
	n := NewNegotiator(WithPlatform(PlatformLinux))
	req := &DeviceRequest{
		Backend:    gputypes.BackendVulkan,
		Extensions: []string{"VK_KHR_swapchain", ExtExternalMemory},
	}
	n.Hook()(req)

	r, ran := n.Result()
	if !ran || !r.Accelerated {
		t.Fatalf("report = %+v, want accelerated", r)
	}
	for _, ext := range append(RequiredExtensions(PlatformLinux), OptionalExtensions(PlatformLinux)...) {
		if !slices.Contains(req.Extensions, ext) {
			t.Errorf("request missing %s", ext)
		}
	}
	if c := countOf(req.Extensions, ExtExternalMemory); c != 1 {
		t.Errorf("%s appears %d times", ExtExternalMemory, c)
	}
	if req.Extensions[0] != "VK_KHR_swapchain" {
		t.Error("existing extensions must be kept")
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
}

func TestNegotiateOptionalExtensions(t *testing.T) {
	n := NewNegotiator(WithPlatform(PlatformLinux))
	req := &DeviceRequest{
		Backend:   gputypes.BackendVulkan,
		Supported: supportsAllBut(ExtImageDRMFormatModifier, ExtExternalSemaphoreFD),
	}
	r := n.Negotiate(req)

	if !r.Accelerated {
		t.Fatalf("report = %+v, want accelerated without optional extensions", r)
	}
	if len(r.Missing) != 0 {
		t.Errorf("Missing = %v, want none", r.Missing)
	}
	if !slices.Equal(r.Skipped, []string{ExtExternalSemaphoreFD, ExtImageDRMFormatModifier}) {
		t.Errorf("Skipped = %v", r.Skipped)
	}
	if !slices.Contains(req.Extensions, ExtExternalSemaphore) {
		t.Error("supported optional extension not requested")
	}
	if slices.Contains(req.Extensions, ExtImageDRMFormatModifier) {
		t.Error("unsupported optional extension requested")
	}
	if !n.MarkAcceleratedStart() {
		t.Error("accelerated start should be allowed")
	}
}

func TestNegotiateWindowsExtensions(t *testing.T) {
	n := NewNegotiator(WithPlatform(PlatformWindows))
	req := &DeviceRequest{Backend: gputypes.BackendVulkan}
	r := n.Negotiate(req)
	if !r.Accelerated || !slices.Contains(req.Extensions, ExtExternalMemoryWin32) {
		t.Errorf("report = %+v, extensions = %v", r, req.Extensions)
	}
	if slices.Contains(req.Extensions, ExtExternalMemoryFD) {
		t.Error("fd extension requested on windows")
	}
}

func TestNegotiateDowngrade(t *testing.T) {
	n := NewNegotiator(WithPlatform(PlatformLinux))
	req := &DeviceRequest{
		Backend:   gputypes.BackendVulkan,
		Supported: supportsAllBut(ExtExternalMemoryDMABuf),
	}
	r := n.Negotiate(req)

	if r.Accelerated {
		t.Fatal("accelerated should be off when an extension is missing")
	}
	if !slices.Equal(r.Missing, []string{ExtExternalMemoryDMABuf}) {
		t.Errorf("Missing = %v", r.Missing)
	}
	if slices.Contains(req.Extensions, ExtExternalMemoryDMABuf) {
		t.Error("unsupported extension must not be requested")
	}
	if !errors.Is(r.Err(), ErrCapabilityUnavailable) {
		t.Errorf("Err = %v, want ErrCapabilityUnavailable", r.Err())
	}
	if n.MarkAcceleratedStart() {
		t.Error("MarkAcceleratedStart should deny the accelerated path")
	}
}

func TestNegotiateNativeBackends(t *testing.T) {
	tests := []struct {
		platform string
		backend  gputypes.Backend
		want     bool
	}{
		{PlatformWindows, gputypes.BackendDX12, true},
		{PlatformDarwin, gputypes.BackendMetal, true},
		{PlatformDarwin, gputypes.BackendVulkan, false},
		{PlatformLinux, gputypes.BackendGL, false},
		{PlatformLinux, gputypes.BackendDX12, false},
	}
	for _, tt := range tests {
		t.Run(tt.platform+"/"+tt.backend.String(), func(t *testing.T) {
			n := NewNegotiator(WithPlatform(tt.platform))
			req := &DeviceRequest{Backend: tt.backend}
			r := n.Negotiate(req)
			if r.Accelerated != tt.want {
				t.Errorf("Accelerated = %v, want %v (%s)", r.Accelerated, tt.want, r.Reason)
			}
			if len(req.Extensions) != 0 {
				t.Errorf("non-Vulkan request mutated: %v", req.Extensions)
			}
		})
	}
}

func TestNegotiateRunsOnce(t *testing.T) {
	n := NewNegotiator(WithPlatform(PlatformLinux))
	first := n.Negotiate(&DeviceRequest{Backend: gputypes.BackendVulkan})

	second := &DeviceRequest{Backend: gputypes.BackendVulkan}
	r := n.Negotiate(second)
	if len(second.Extensions) != 0 {
		t.Error("second negotiation must not mutate its request")
	}
	if r.Accelerated != first.Accelerated || len(r.Enabled) != len(first.Enabled) {
		t.Errorf("second report %+v differs from first %+v", r, first)
	}
	if !n.MarkAcceleratedStart() {
		t.Error("accelerated start should be allowed after successful negotiation")
	}
}

func TestNegotiateLate(t *testing.T) {
	n := NewNegotiator(WithPlatform(PlatformLinux))
	if n.MarkAcceleratedStart() {
		t.Fatal("accelerated start before negotiation must be denied")
	}
	req := &DeviceRequest{Backend: gputypes.BackendVulkan}
	r := n.Negotiate(req)
	if !r.Late || r.Accelerated {
		t.Errorf("report = %+v, want late and not accelerated", r)
	}
	if len(req.Extensions) != 0 {
		t.Error("late negotiation must leave the request untouched")
	}
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}
