package webtex

import (
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/webtex/devcaps"
	"github.com/gogpu/webtex/gpuid"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ime"
	"github.com/gogpu/webtex/supervisor"
)

// Option configures a Core during creation.
//
// Example:
//
//	core, err := webtex.New(
//	    webtex.WithEngine("/opt/engine/engine-host"),
//	    webtex.WithDataDir(filepath.Join(cacheDir, "webtex")),
//	    webtex.WithCapabilities(negotiator),
//	)
type Option func(*options)

// options holds optional configuration for Core creation.
type options struct {
	enginePath      string
	engineArgs      []string
	engineEnv       []string
	dataDir         string
	launcher        supervisor.Launcher
	shutdownTimeout time.Duration
	perInstance     bool

	negotiator *devcaps.Negotiator
	identity   gpuid.Source
	registry   *gpushare.Registry
	importers  []importerEntry
	threshold  int

	creator    gpucontext.TextureCreator
	controller gpucontext.IMEController
	cursor     ime.CursorSetter

	journal  bool
	security SecurityConfig
}

type importerEntry struct {
	name     string
	kind     gpushare.HandleKind
	priority int
	importer gpushare.Importer
}

// defaultOptions returns the default Core options.
func defaultOptions() options {
	return options{
		launcher:        supervisor.ExecLauncher{},
		shutdownTimeout: supervisor.DefaultShutdownTimeout,
		journal:         true,
	}
}

// WithEngine sets the engine executable and extra arguments.
func WithEngine(path string, args ...string) Option {
	return func(o *options) {
		o.enginePath = path
		o.engineArgs = append([]string(nil), args...)
	}
}

// WithEngineEnv appends KEY=value pairs to the engine environment.
func WithEngineEnv(env ...string) Option {
	return func(o *options) {
		o.engineEnv = append(o.engineEnv, env...)
	}
}

// WithDataDir sets the per-user data directory. The engine keeps its cache,
// cookies and storage there; webtex only locks it and keeps its journal in it.
// Without a data directory the engine runs with an in-memory profile.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithLauncher replaces the process launcher. Tests use it to run an
// in-process engine.
func WithLauncher(l supervisor.Launcher) Option {
	return func(o *options) {
		o.launcher = l
	}
}

// WithShutdownTimeout bounds how long Close waits for the engine to
// acknowledge a shutdown request before killing it.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// WithProcessPerInstance runs every instance in its own engine process, so a
// crash takes down only that instance.
func WithProcessPerInstance(on bool) Option {
	return func(o *options) {
		o.perInstance = on
	}
}

// WithCapabilities supplies the negotiator whose Hook ran when the host
// created its graphics device. Without it every instance uses software
// frames.
func WithCapabilities(n *devcaps.Negotiator) Option {
	return func(o *options) {
		o.negotiator = n
	}
}

// WithIdentity sets the source of the host's adapter identity, which pins
// the engine to the same GPU.
func WithIdentity(src gpuid.Source) Option {
	return func(o *options) {
		o.identity = src
	}
}

// WithDeviceProvider reads the host adapter from a gpucontext provider.
// describe resolves the provider's adapter into PCI ids and LUID.
func WithDeviceProvider(p gpucontext.DeviceProvider, describe func(gpucontext.Adapter) (gpuid.Adapter, error)) Option {
	return func(o *options) {
		o.identity = gpuid.ProviderSource{Provider: p, Describe: describe}
	}
}

// WithRegistry replaces the share-backend registry (gpushare.DefaultRegistry
// by default).
func WithRegistry(r *gpushare.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithImporter registers an importer for one handle kind. Higher priority
// wins when several importers handle the same kind.
func WithImporter(name string, kind gpushare.HandleKind, priority int, imp gpushare.Importer) Option {
	return func(o *options) {
		o.importers = append(o.importers, importerEntry{name: name, kind: kind, priority: priority, importer: imp})
	}
}

// WithFallbackThreshold sets how many consecutive accelerated failures
// switch an instance to software frames.
func WithFallbackThreshold(n int) Option {
	return func(o *options) {
		o.threshold = n
	}
}

// WithTextureCreator makes Pump publish frames as host textures and hand
// them to Listener.OnFrameReady.
func WithTextureCreator(c gpucontext.TextureCreator) Option {
	return func(o *options) {
		o.creator = c
	}
}

// WithIMEController positions the host's native composition window at the
// engine's caret.
func WithIMEController(c gpucontext.IMEController) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithPlatform makes Pump show the mouse cursor each page asks for through
// p.SetCursor.
func WithPlatform(p gpucontext.PlatformProvider) Option {
	return func(o *options) {
		o.cursor = p
	}
}

// WithJournal turns the lifecycle journal in the data directory on or off.
// It is on by default and needs a data directory.
func WithJournal(on bool) Option {
	return func(o *options) {
		o.journal = on
	}
}

// WithSecurity relaxes engine security checks. Every enabled switch is
// logged as a warning.
func WithSecurity(s SecurityConfig) Option {
	return func(o *options) {
		o.security = s
	}
}
