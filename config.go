package webtex

import (
	"fmt"
	"log/slog"
)

// Defaults for InstanceConfig.
const (
	DefaultFrameRate = 60
	DefaultURL       = "about:blank"
)

// Engine command-line switches set by Core.
const (
	FlagUserDataDir         = "--user-data-dir"
	FlagInsecureContent     = "--allow-running-insecure-content"
	FlagIgnoreCertErrors    = "--ignore-certificate-errors"
	FlagDisableWebSecurity  = "--disable-web-security"
	FlagAutoplayNoGesture   = "--autoplay-policy=no-user-gesture-required"
	FlagRemoteDebuggingPort = "--remote-debugging-port"
)

// InstanceConfig describes a browser instance to create.
type InstanceConfig struct {
	URL string

	// Size is the logical view size. Frames are Size scaled by
	// ScaleFactor, in physical pixels.
	Size        Size
	ScaleFactor float64

	// FrameRate caps engine painting, in frames per second.
	FrameRate int

	// Transparent keeps the page background transparent.
	Transparent bool

	Resize ResizePolicy

	// PreferAccelerated asks for shared GPU textures. The instance still
	// runs on software frames when the session cannot share textures.
	PreferAccelerated bool

	EnableAudio bool
}

// DefaultInstanceConfig returns a config for an 800x600 blank page.
func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		URL:               DefaultURL,
		Size:              Size{Width: 800, Height: 600},
		ScaleFactor:       1,
		FrameRate:         DefaultFrameRate,
		PreferAccelerated: true,
	}
}

func (c InstanceConfig) withDefaults() InstanceConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ScaleFactor <= 0 {
		c.ScaleFactor = 1
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	return c
}

func (c InstanceConfig) validate() error {
	if c.Size.Empty() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, c.Size)
	}
	return nil
}

// physical returns the frame size for a logical size.
func (c InstanceConfig) physical(s Size) Size {
	return s.Scale(c.ScaleFactor)
}

// SecurityConfig relaxes engine security. All switches are off by default.
type SecurityConfig struct {
	AllowInsecureContent    bool
	IgnoreCertificateErrors bool
	DisableWebSecurity      bool

	// AutoplayWithoutGesture lets media play before user interaction.
	AutoplayWithoutGesture bool

	// RemoteDebuggingPort exposes the engine's devtools when positive.
	RemoteDebuggingPort int
}

// args returns the engine switches for s, warning about each one.
func (s SecurityConfig) args(log *slog.Logger) []string {
	var args []string
	warn := func(flag, what string) {
		log.Warn("webtex: engine security relaxed", "switch", flag, "effect", what)
		args = append(args, flag)
	}
	if s.AllowInsecureContent {
		warn(FlagInsecureContent, "mixed content allowed")
	}
	if s.IgnoreCertificateErrors {
		warn(FlagIgnoreCertErrors, "TLS certificate errors ignored")
	}
	if s.DisableWebSecurity {
		warn(FlagDisableWebSecurity, "same-origin policy disabled")
	}
	if s.AutoplayWithoutGesture {
		args = append(args, FlagAutoplayNoGesture)
	}
	if s.RemoteDebuggingPort > 0 {
		warn(fmt.Sprintf("%s=%d", FlagRemoteDebuggingPort, s.RemoteDebuggingPort), "devtools reachable on localhost")
	}
	return args
}
