package webtex

import "github.com/gogpu/gpucontext"

// Listener receives instance events from Core.Pump, on the goroutine that
// calls Pump.
type Listener interface {
	// OnFrameReady reports a new frame. tex is the published host texture
	// when the Core has a texture creator, and nil otherwise.
	OnFrameReady(id InstanceID, f Frame, tex gpucontext.Texture)

	// OnMessage delivers one envelope from the page, in send order.
	OnMessage(id InstanceID, e Envelope)

	// OnCaretRect reports the caret of the focused editable element while
	// a composition is possible, in host coordinates.
	OnCaretRect(id InstanceID, r Rect)

	// OnInstanceState reports a state transition.
	OnInstanceState(id InstanceID, ev StateEvent)
}

// PageListener is implemented by listeners that also want page
// notifications.
type PageListener interface {
	OnLoading(id InstanceID, s LoadingState)
	OnAddress(id InstanceID, url string)
	OnTitle(id InstanceID, title string)
	OnConsole(id InstanceID, m ConsoleMessage)
	OnAudio(id InstanceID, a AudioState)
	OnCursor(id InstanceID, c Cursor)
}

// DragListener is implemented by listeners that take part in drag and
// drop. OnDragStarted reports content the page drags out of the view; the
// host runs the drag and ends it with Forwarder.DragSourceEnded.
// OnDragCursor reports the operation the page would perform if the host
// drag over it were dropped now.
type DragListener interface {
	OnDragStarted(id InstanceID, d DragStart)
	OnDragCursor(id InstanceID, op DragOps)
}

// DownloadListener is implemented by listeners that want download
// notifications.
type DownloadListener interface {
	OnDownloadRequested(id InstanceID, d DownloadRequest)
	OnDownloadUpdated(id InstanceID, d DownloadUpdate)
}

// NopListener implements every listener interface with no-ops. Embed it
// to handle only some events.
type NopListener struct{}

func (NopListener) OnFrameReady(InstanceID, Frame, gpucontext.Texture) {}
func (NopListener) OnMessage(InstanceID, Envelope)                     {}
func (NopListener) OnCaretRect(InstanceID, Rect)                       {}
func (NopListener) OnInstanceState(InstanceID, StateEvent)             {}
func (NopListener) OnLoading(InstanceID, LoadingState)                 {}
func (NopListener) OnAddress(InstanceID, string)                       {}
func (NopListener) OnTitle(InstanceID, string)                         {}
func (NopListener) OnConsole(InstanceID, ConsoleMessage)               {}
func (NopListener) OnAudio(InstanceID, AudioState)                     {}
func (NopListener) OnCursor(InstanceID, Cursor)                        {}
func (NopListener) OnDragStarted(InstanceID, DragStart)                {}
func (NopListener) OnDragCursor(InstanceID, DragOps)                   {}
func (NopListener) OnDownloadRequested(InstanceID, DownloadRequest)    {}
func (NopListener) OnDownloadUpdated(InstanceID, DownloadUpdate)       {}

// event is one queued notification. Exactly one payload field is set.
type event struct {
	id        InstanceID
	state     *StateEvent
	caret     *Rect
	loading   *LoadingState
	address   *string
	title     *string
	console   *ConsoleMessage
	audio     *AudioState
	cursor    *Cursor
	dragStart *DragStart
	dragOp    *DragOps
	download  *DownloadRequest
	progress  *DownloadUpdate
}

func (e event) dispatch(l Listener) {
	switch {
	case e.state != nil:
		l.OnInstanceState(e.id, *e.state)
		return
	case e.caret != nil:
		l.OnCaretRect(e.id, *e.caret)
		return
	case e.dragStart != nil || e.dragOp != nil:
		if dl, ok := l.(DragListener); ok {
			if e.dragStart != nil {
				dl.OnDragStarted(e.id, *e.dragStart)
			} else {
				dl.OnDragCursor(e.id, *e.dragOp)
			}
		}
		return
	case e.download != nil || e.progress != nil:
		if dl, ok := l.(DownloadListener); ok {
			if e.download != nil {
				dl.OnDownloadRequested(e.id, *e.download)
			} else {
				dl.OnDownloadUpdated(e.id, *e.progress)
			}
		}
		return
	}
	pl, ok := l.(PageListener)
	if !ok {
		return
	}
	switch {
	case e.loading != nil:
		pl.OnLoading(e.id, *e.loading)
	case e.address != nil:
		pl.OnAddress(e.id, *e.address)
	case e.title != nil:
		pl.OnTitle(e.id, *e.title)
	case e.console != nil:
		pl.OnConsole(e.id, *e.console)
	case e.audio != nil:
		pl.OnAudio(e.id, *e.audio)
	case e.cursor != nil:
		pl.OnCursor(e.id, *e.cursor)
	}
}
