package webtex

import "sync"

// Per-instance limits on queued events that are not coalesced. The oldest
// entry is dropped when a limit is reached.
const (
	maxQueuedConsole   = 256
	maxQueuedDownloads = 256
	maxQueuedLoading   = 64
)

// eventKind groups events for coalescing and limits.
type eventKind uint8

const (
	kindState eventKind = iota
	kindCaret
	kindLoading
	kindAddress
	kindTitle
	kindConsole
	kindAudio
	kindCursor
	kindDragStart
	kindDragOp
	kindDownload
	kindProgress
)

func (e event) kind() eventKind {
	switch {
	case e.caret != nil:
		return kindCaret
	case e.loading != nil:
		return kindLoading
	case e.address != nil:
		return kindAddress
	case e.title != nil:
		return kindTitle
	case e.console != nil:
		return kindConsole
	case e.audio != nil:
		return kindAudio
	case e.cursor != nil:
		return kindCursor
	case e.dragStart != nil:
		return kindDragStart
	case e.dragOp != nil:
		return kindDragOp
	case e.download != nil:
		return kindDownload
	case e.progress != nil:
		return kindProgress
	}
	return kindState
}

// supersedes reports whether e makes the queued event old irrelevant.
func (e event) supersedes(old event) bool {
	k := e.kind()
	if k != old.kind() {
		return false
	}
	switch k {
	case kindState, kindLoading, kindConsole, kindDownload:
		return false
	case kindProgress:
		return e.progress.ID == old.progress.ID
	}
	return true
}

// eventQueue holds one instance's events until Pump delivers them. A newer
// notification replaces a queued one of the same kind. State transitions,
// loading changes, console messages and download requests queue up instead.
type eventQueue struct {
	mu      sync.Mutex
	events  []event
	dropped int
	closed  bool
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	limit := 0
	switch e.kind() {
	case kindConsole:
		limit = maxQueuedConsole
	case kindDownload:
		limit = maxQueuedDownloads
	case kindLoading:
		limit = maxQueuedLoading
	}
	n := 0
	oldest := -1
	kept := q.events[:0]
	for _, x := range q.events {
		if e.supersedes(x) {
			continue
		}
		if limit > 0 && x.kind() == e.kind() {
			if oldest < 0 {
				oldest = len(kept)
			}
			n++
		}
		kept = append(kept, x)
	}
	q.events = kept
	if limit > 0 && n >= limit {
		q.events = append(q.events[:oldest], q.events[oldest+1:]...)
		if q.dropped == 0 {
			Logger().Debug("webtex: event queue full, dropping oldest", "instance", e.id, "kind", e.kind())
		}
		q.dropped++
	}
	q.events = append(q.events, e)
}

// drain returns the queued events and empties the queue.
func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// close discards the queued events and ignores later pushes.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// droppedCount returns the number of events dropped at a limit.
func (q *eventQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
