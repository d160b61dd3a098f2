// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package devcaps

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
)

// ErrCapabilityUnavailable reports that the accelerated path is disabled for
// this session. It is informational: instances still run on software frames.
var ErrCapabilityUnavailable = errors.New("devcaps: accelerated path unavailable")

// DeviceRequest is the host's device-creation request as seen by the hook.
// The hook mutates Extensions in place.
type DeviceRequest struct {
	Backend    gputypes.Backend
	Extensions []string

	// Supported reports whether the physical device offers an extension.
	// A nil Supported treats every extension as supported.
	Supported func(name string) bool
}

// Report is the outcome of a negotiation.
type Report struct {
	Backend     gputypes.Backend
	Platform    string
	Enabled     []string
	Missing     []string
	Accelerated bool

	// Skipped lists optional extensions the device does not offer. They do
	// not turn the accelerated path off.
	Skipped []string

	// Late is set when the hook ran after an accelerated instance started.
	Late bool

	// Reason explains why Accelerated is false.
	Reason string
}

// Err returns ErrCapabilityUnavailable with the reason when the accelerated
// path is off, and nil otherwise.
func (r Report) Err() error {
	if r.Accelerated {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCapabilityUnavailable, r.Reason)
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithPlatform overrides the platform (runtime.GOOS by default).
func WithPlatform(goos string) Option {
	return func(n *Negotiator) {
		n.platform = goos
	}
}

// Negotiator runs capability negotiation exactly once per session.
type Negotiator struct {
	mu       sync.Mutex
	platform string
	ran      bool
	started  bool
	report   Report
}

// NewNegotiator creates a negotiator for the current platform.
func NewNegotiator(opts ...Option) *Negotiator {
	n := &Negotiator{platform: runtime.GOOS}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Hook returns the pre-initialization callback to hand to the code that
// creates the host graphics device.
func (n *Negotiator) Hook() func(*DeviceRequest) {
	return func(req *DeviceRequest) {
		n.Negotiate(req)
	}
}

// Negotiate inspects req, adds the extensions the accelerated path needs and
// the device supports, and records the result. Only the first call mutates
// req; later calls return the first report unchanged.
func (n *Negotiator) Negotiate(req *DeviceRequest) Report {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ran {
		slogger().Warn("devcaps: negotiation already ran, ignoring request", "backend", req.Backend)
		return n.report
	}
	n.ran = true

	r := Report{Backend: req.Backend, Platform: n.platform}
	switch {
	case n.started:
		// An accelerated instance already chose its path without us.
		r.Late = true
		r.Reason = "negotiation ran after an accelerated instance started"
	case req.Backend == gputypes.BackendVulkan:
		n.negotiateVulkan(req, &r)
	case nativeSharing(req.Backend, n.platform):
		r.Accelerated = true
	default:
		r.Reason = fmt.Sprintf("%s on %s cannot import shared textures", req.Backend, n.platform)
	}

	n.report = r
	if r.Accelerated {
		slogger().Info("devcaps: accelerated path enabled",
			"backend", r.Backend, "platform", r.Platform, "extensions", r.Enabled)
	} else {
		slogger().Warn("devcaps: accelerated path unavailable",
			"backend", r.Backend, "platform", r.Platform, "reason", r.Reason, "late", r.Late)
	}
	return r
}

func (n *Negotiator) negotiateVulkan(req *DeviceRequest, r *Report) {
	required := RequiredExtensions(n.platform)
	if len(required) == 0 {
		r.Reason = fmt.Sprintf("no Vulkan external memory path on %s", n.platform)
		return
	}
	for _, ext := range required {
		if !enable(req, r, ext) {
			r.Missing = append(r.Missing, ext)
		}
	}
	if len(r.Missing) > 0 {
		r.Reason = "missing " + strings.Join(r.Missing, ", ")
		return
	}
	for _, ext := range OptionalExtensions(n.platform) {
		if !enable(req, r, ext) {
			r.Skipped = append(r.Skipped, ext)
		}
	}
	if len(r.Skipped) > 0 {
		slogger().Info("devcaps: optional extensions unavailable", "skipped", r.Skipped)
	}
	r.Accelerated = true
}

// enable adds ext to req when the device supports it and reports whether
// ext ends up enabled.
func enable(req *DeviceRequest, r *Report, ext string) bool {
	switch {
	case slices.Contains(req.Extensions, ext):
	case req.Supported == nil || req.Supported(ext):
		req.Extensions = append(req.Extensions, ext)
	default:
		return false
	}
	r.Enabled = append(r.Enabled, ext)
	return true
}

// MarkAcceleratedStart records that an instance wants the accelerated path
// and reports whether it may use it. Calling it before Negotiate makes a
// later negotiation report Late.
func (n *Negotiator) MarkAcceleratedStart() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.ran {
		if !n.started {
			slogger().Warn("devcaps: accelerated instance started before device negotiation")
		}
		n.started = true
		return false
	}
	return n.report.Accelerated
}

// Result returns the negotiation report and whether negotiation ran.
func (n *Negotiator) Result() (Report, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.report, n.ran
}
