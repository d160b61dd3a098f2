package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gogpu/webtex"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#2F6FDE")).Padding(0, 1)
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87CEEB"))
	selectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#2F6FDE"))
	acceleratedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	crashedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD866"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// pumpInterval is how often the TUI pumps the core.
const pumpInterval = time.Second / 30

type tickMsg time.Time

type createdMsg struct {
	id  webtex.InstanceID
	url string
	err error
}

type monitorModel struct {
	mon      *monitor
	template webtex.InstanceConfig
	input    textinput.Model
	typing   bool
	selected int
	status   string
	width    int
}

func newMonitorModel(mon *monitor, template webtex.InstanceConfig) *monitorModel {
	in := textinput.New()
	in.Placeholder = "message to the page"
	in.CharLimit = 4096
	in.Width = 60
	return &monitorModel{mon: mon, template: template, input: in}
}

func tick() tea.Cmd {
	return tea.Tick(pumpInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *monitorModel) create() tea.Cmd {
	cfg := m.template
	core := m.mon.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		id, err := core.CreateInstance(ctx, cfg)
		return createdMsg{id: id, url: cfg.URL, err: err}
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.create())
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.mon.tick()
		return m, tick()

	case createdMsg:
		if msg.err != nil {
			m.status = "create failed: " + msg.err.Error()
			return m, nil
		}
		m.mon.add(msg.id, msg.url)
		m.status = "created " + msg.id.String()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.typing {
			return m.updateTyping(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.mon.order)-1 {
				m.selected++
			}
		case "n":
			m.status = "creating instance..."
			return m, m.create()
		case "d":
			m.destroySelected()
		case "m":
			if _, ok := m.mon.at(m.selected); ok {
				m.typing = true
				m.input.Reset()
				return m, m.input.Focus()
			}
		}
	}
	return m, nil
}

func (m *monitorModel) updateTyping(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.typing = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.typing = false
		m.input.Blur()
		id, ok := m.mon.at(m.selected)
		if !ok {
			return m, nil
		}
		if err := m.mon.core.SendMessage(id, webtex.Text(m.input.Value())); err != nil {
			m.status = "send failed: " + err.Error()
		} else {
			m.status = fmt.Sprintf("sent %d bytes", len(m.input.Value()))
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *monitorModel) destroySelected() {
	id, ok := m.mon.at(m.selected)
	if !ok {
		return
	}
	if err := m.mon.core.DestroyInstance(id); err != nil {
		m.status = "destroy failed: " + err.Error()
	} else {
		m.status = "destroyed " + id.String()
	}
	m.mon.remove(id)
	if m.selected >= len(m.mon.order) && m.selected > 0 {
		m.selected--
	}
}

func (m *monitorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("webtex monitor"))
	if dir := m.mon.core.DataDir(); dir != "" {
		b.WriteString(" " + dir)
	}
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-8s  %-9s  %-11s  %9s  %7s  %7s  %s",
		"ID", "STATE", "PATH", "SIZE", "FPS", "MSGS", "PAGE")))
	b.WriteString("\n")

	rows := m.mon.snapshot()
	if len(rows) == 0 {
		b.WriteString("  no instances\n")
	}
	for i, r := range rows {
		page := r.title
		if page == "" {
			page = r.url
		}
		if r.loading {
			page += " (loading)"
		}
		line := fmt.Sprintf("%-8s  %-9s  %-11s  %9s  %7.1f  %7d  %s",
			r.id.String()[:8], r.state, r.path, r.size, r.fps, r.messages, page)
		switch {
		case i == m.selected:
			b.WriteString(selectedStyle.Render("> " + line))
		case r.state == webtex.StateCrashed:
			b.WriteString(crashedStyle.Render("  " + line))
		case r.path == webtex.PathAccelerated:
			b.WriteString(acceleratedStyle.Render("  " + line))
		default:
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if r, ok := m.selectedRow(rows); ok {
		b.WriteString("\n")
		if r.lastMsg != "" {
			b.WriteString("last message: " + r.lastMsg + "\n")
		}
		if r.reason != "" {
			b.WriteString(crashedStyle.Render("reason: "+r.reason) + "\n")
		}
	}

	b.WriteString("\n")
	if m.typing {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter send • esc cancel"))
	} else {
		if m.status != "" {
			b.WriteString(statusStyle.Render(m.status))
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("↑/↓ select • n new • d destroy • m message • q quit"))
	}
	if m.width > 0 {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
	}
	return b.String()
}

func (m *monitorModel) selectedRow(rows []row) (row, bool) {
	if m.selected < 0 || m.selected >= len(rows) {
		return row{}, false
	}
	return rows[m.selected], true
}

func runTUI(mon *monitor, template webtex.InstanceConfig) error {
	p := tea.NewProgram(newMonitorModel(mon, template), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
