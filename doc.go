// Package webtex embeds a multi-process browser engine into a real-time
// renderer and exposes each browser instance as a live texture with a
// message channel.
//
// # Overview
//
// The engine runs in its own process. webtex launches and supervises it,
// pins it to the host's GPU, and talks to it over two local streams: a
// control stream (instance lifecycle, input, messages, software frames) and
// a data stream carrying shared GPU texture handles.
//
// Frames arrive on one of two paths:
//   - Accelerated: the engine exports a GPU texture and the host imports it
//     through a registered [gpushare.Importer].
//   - Software: the engine sends pixels, which are converted to RGBA and
//     uploaded.
//
// An instance that fails to import shared textures (wrong adapter, import
// error) moves to the software path for the rest of its life. The host sees a
// [StateSoftware] event, not an error.
//
// # Quick Start
//
//	core, err := webtex.New(
//	    webtex.WithEngine(enginePath),
//	    webtex.WithDataDir(dataDir),
//	)
//	if err != nil {
//	    return err
//	}
//	defer core.Close(context.Background())
//
//	id, err := core.CreateInstance(ctx, webtex.InstanceConfig{
//	    URL:  "https://example.com",
//	    Size: webtex.Size{Width: 800, Height: 600},
//	})
//
//	// Once per host frame:
//	if f, ok := core.PollFrame(id); ok {
//	    upload(f)
//	}
//	for {
//	    e, ok := core.TryRecv(id)
//	    if !ok {
//	        break
//	    }
//	    handle(e)
//	}
//
// Hosts that prefer callbacks call [Core.Pump] with a [Listener] instead of
// PollFrame and TryRecv.
//
// # Accelerated Path
//
// Shared textures need device extensions enabled when the host creates its
// graphics device. Pass the hook of a [devcaps.Negotiator] to the code that
// creates the device, then give the negotiator to [WithCapabilities]. A
// negotiation that runs after the first accelerated instance started is
// reported as late and the session stays on software frames.
//
// # Crashes
//
// When the engine process dies, every instance it rendered emits one
// [StateCrashed] event, PollFrame returns an Unavailable frame, and
// SendMessage fails with [ErrChannelClosed]. Nothing is restarted; create
// new instances to recover.
//
// # Logging
//
// webtex is silent by default. [SetLogger] enables structured logging for
// the package and every sub-package.
package webtex
