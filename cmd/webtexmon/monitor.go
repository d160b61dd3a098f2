package main

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/webtex"
)

// row is what the monitor knows about one instance.
type row struct {
	id       webtex.InstanceID
	state    webtex.InstanceState
	path     webtex.RenderPath
	size     webtex.Size
	frames   int
	fps      float64
	url      string
	title    string
	loading  bool
	messages int
	lastMsg  string
	caret    webtex.Rect
	reason   string
	download string
}

// monitor collects the callbacks of Core.Pump. It is used from a single
// goroutine.
type monitor struct {
	webtex.NopListener

	core  *webtex.Core
	rows  map[webtex.InstanceID]*row
	order []webtex.InstanceID
	now   func() time.Time

	window time.Time
	counts map[webtex.InstanceID]int
}

func newMonitor(core *webtex.Core) *monitor {
	m := &monitor{
		core:   core,
		rows:   make(map[webtex.InstanceID]*row),
		counts: make(map[webtex.InstanceID]int),
		now:    time.Now,
	}
	m.window = m.now()
	return m
}

func (m *monitor) add(id webtex.InstanceID, url string) {
	if _, ok := m.rows[id]; ok {
		return
	}
	r := &row{id: id, url: url, state: webtex.StateRunning}
	if p, err := m.core.Path(id); err == nil {
		r.path = p
	}
	m.rows[id] = r
	m.order = append(m.order, id)
}

func (m *monitor) remove(id webtex.InstanceID) {
	delete(m.rows, id)
	delete(m.counts, id)
	for i, x := range m.order {
		if x == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// tick pumps the core once and refreshes the frame rates every second.
func (m *monitor) tick() int {
	n := m.core.Pump(m)
	now := m.now()
	if elapsed := now.Sub(m.window); elapsed >= time.Second {
		for id, r := range m.rows {
			r.fps = float64(m.counts[id]) / elapsed.Seconds()
		}
		clear(m.counts)
		m.window = now
	}
	return n
}

// snapshot returns the rows in creation order.
func (m *monitor) snapshot() []row {
	out := make([]row, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.rows[id])
	}
	return out
}

func (m *monitor) at(i int) (webtex.InstanceID, bool) {
	if i < 0 || i >= len(m.order) {
		return webtex.InstanceID{}, false
	}
	return m.order[i], true
}

func (m *monitor) OnFrameReady(id webtex.InstanceID, f webtex.Frame, _ gpucontext.Texture) {
	r, ok := m.rows[id]
	if !ok {
		return
	}
	if !f.Unavailable {
		r.frames++
		m.counts[id]++
	}
	r.size = f.Size
	r.path = f.Path
}

func (m *monitor) OnMessage(id webtex.InstanceID, e webtex.Envelope) {
	if r, ok := m.rows[id]; ok {
		r.messages++
		r.lastMsg = e.String()
	}
}

func (m *monitor) OnCaretRect(id webtex.InstanceID, rc webtex.Rect) {
	if r, ok := m.rows[id]; ok {
		r.caret = rc
	}
}

func (m *monitor) OnInstanceState(id webtex.InstanceID, ev webtex.StateEvent) {
	r, ok := m.rows[id]
	if !ok {
		return
	}
	r.state = ev.State
	if ev.Err != nil {
		r.reason = ev.Err.Error()
	}
	if ev.State == webtex.StateSoftware {
		r.path = webtex.PathSoftware
	}
}

func (m *monitor) OnLoading(id webtex.InstanceID, s webtex.LoadingState) {
	if r, ok := m.rows[id]; ok {
		r.loading = s.Loading
	}
}

func (m *monitor) OnAddress(id webtex.InstanceID, url string) {
	if r, ok := m.rows[id]; ok {
		r.url = url
	}
}

func (m *monitor) OnTitle(id webtex.InstanceID, title string) {
	if r, ok := m.rows[id]; ok {
		r.title = title
	}
}

func (m *monitor) OnDownloadUpdated(id webtex.InstanceID, d webtex.DownloadUpdate) {
	r, ok := m.rows[id]
	if !ok {
		return
	}
	switch {
	case d.Complete:
		r.download = ""
	case d.Canceled:
		r.download = "download canceled"
	default:
		r.download = fmt.Sprintf("download %d%%", d.Percent)
	}
}

// line formats r for the headless output.
func (r row) line() string {
	s := fmt.Sprintf("%s %-9s %-11s %9s %6.1f fps %6d frames",
		r.id.String()[:8], r.state, r.path, r.size, r.fps, r.frames)
	if r.title != "" {
		s += " " + r.title
	}
	if r.reason != "" {
		s += " (" + r.reason + ")"
	}
	if r.download != "" {
		s += " [" + r.download + "]"
	}
	return s
}
