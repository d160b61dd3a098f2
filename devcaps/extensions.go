// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package devcaps

import "github.com/gogpu/gputypes"

// Vulkan device extensions used by the accelerated path.
const (
	ExtExternalMemory         = "VK_KHR_external_memory"
	ExtExternalMemoryFD       = "VK_KHR_external_memory_fd"
	ExtExternalMemoryDMABuf   = "VK_EXT_external_memory_dma_buf"
	ExtImageDRMFormatModifier = "VK_EXT_image_drm_format_modifier"
	ExtExternalMemoryWin32    = "VK_KHR_external_memory_win32"
	ExtExternalSemaphore      = "VK_KHR_external_semaphore"
	ExtExternalSemaphoreFD    = "VK_KHR_external_semaphore_fd"
	ExtExternalSemaphoreWin32 = "VK_KHR_external_semaphore_win32"
)

// Platform names follow runtime.GOOS.
const (
	PlatformLinux   = "linux"
	PlatformWindows = "windows"
	PlatformDarwin  = "darwin"
)

// RequiredExtensions returns the Vulkan device extensions the accelerated
// path cannot run without on platform, base capabilities first. It returns
// nil when Vulkan cannot import the engine's textures there.
func RequiredExtensions(platform string) []string {
	switch platform {
	case PlatformWindows:
		return []string{ExtExternalMemory, ExtExternalMemoryWin32}
	case PlatformDarwin:
		// IOSurfaces are imported through Metal, not Vulkan.
		return nil
	case PlatformLinux, "freebsd", "android":
		return []string{ExtExternalMemory, ExtExternalMemoryFD, ExtExternalMemoryDMABuf}
	default:
		return nil
	}
}

// OptionalExtensions returns the extensions enabled on platform when the
// device offers them. Without them imports use implicit synchronization and
// linear DMA-BUF layouts.
func OptionalExtensions(platform string) []string {
	switch platform {
	case PlatformWindows:
		return []string{ExtExternalSemaphore, ExtExternalSemaphoreWin32}
	case PlatformLinux, "freebsd", "android":
		return []string{ExtExternalSemaphore, ExtExternalSemaphoreFD, ExtImageDRMFormatModifier}
	default:
		return nil
	}
}

// nativeSharing reports whether backend shares textures across processes
// on platform without any device extension.
func nativeSharing(backend gputypes.Backend, platform string) bool {
	switch backend {
	case gputypes.BackendDX12:
		return platform == PlatformWindows
	case gputypes.BackendMetal:
		return platform == PlatformDarwin
	default:
		return false
	}
}
