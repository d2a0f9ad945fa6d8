// Package tui renders a live view of the audit log.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clawinfra/toolgate/internal/audit"
)

// DefaultInterval is how often the log is re-read.
const DefaultInterval = time.Second

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	primaryColor = lipgloss.Color("#7C3AED") // violet
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	sidebarStyle = lipgloss.NewStyle().
			Width(28).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 1)

	sidebarTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	metricStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(2)

	logBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusStyles = map[string]lipgloss.Style{
		audit.StatusApproved: lipgloss.NewStyle().Foreground(successColor),
		audit.StatusDenied:   lipgloss.NewStyle().Foreground(errorColor).Bold(true),
		audit.StatusAsked:    lipgloss.NewStyle().Foreground(warnColor),
		audit.StatusWarning:  lipgloss.NewStyle().Foreground(warnColor).Bold(true),
	}
)

// StatusStyle returns the style used for an audit status word.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle().Foreground(mutedColor)
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type entriesMsg struct {
	entries []audit.Entry
	err     error
}

type tickMsg struct{}

// ─────────────────────────────────────────────────────
// Model
// ─────────────────────────────────────────────────────

// Model follows an audit log file.
type Model struct {
	path       string
	limit      int
	interval   time.Duration
	onlyDenied bool

	entries []audit.Entry
	summary audit.Summary
	err     error

	log    viewport.Model
	width  int
	height int
	ready  bool
}

// NewModel creates a model showing the last limit entries of path.
func NewModel(path string, limit int, interval time.Duration) Model {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{path: path, limit: limit, interval: interval}
}

// Run starts the program and blocks until the user quits.
func Run(path string, limit int, interval time.Duration) error {
	p := tea.NewProgram(NewModel(path, limit, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	path, limit := m.path, m.limit
	return func() tea.Msg {
		entries, err := audit.Tail(path, limit)
		return entriesMsg{entries: entries, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "d":
			m.onlyDenied = !m.onlyDenied
			m.refresh()
			return m, nil
		}

	case entriesMsg:
		m.err = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			m.summary = audit.Summarize(msg.entries)
		}
		m.refresh()
		return m, m.tick()

	case tickMsg:
		return m, m.load()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		logW := max(m.width-33, 20)
		logH := max(m.height-4, 3)
		if !m.ready {
			m.log = viewport.New(logW, logH)
			m.ready = true
		} else {
			m.log.Width = logW
			m.log.Height = logH
		}
		m.refresh()
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.log.SetContent(m.renderLog())
	m.log.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading audit log..."
	}

	title := "  toolgate audit  " + m.path
	if m.onlyDenied {
		title += "  [denied only]"
	}
	header := headerStyle.Width(m.width).Render(title)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSidebar(), " ", logBorder.Width(m.width-33).Render(m.log.View()))

	footer := footerStyle.Render("  q: quit │ d: toggle denied only │ ↑↓: scroll")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// ─────────────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────────────

func (m Model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString(sidebarTitle.Render("  Summary"))
	sb.WriteString("\n")
	if m.err != nil {
		sb.WriteString(StatusStyle(audit.StatusDenied).Render("  " + m.err.Error()))
		return sidebarStyle.Render(sb.String())
	}

	sb.WriteString(metricStyle.Render(fmt.Sprintf("entries: %d", m.summary.Total)))
	sb.WriteString("\n")
	for _, c := range audit.Sorted(m.summary.ByStatus) {
		sb.WriteString("  " + StatusStyle(c.Key).Render(fmt.Sprintf("%-9s %d", c.Key, c.Count)))
		sb.WriteString("\n")
	}
	if len(m.summary.ByCaller) > 0 {
		sb.WriteString("\n")
		sb.WriteString(sidebarTitle.Render("  Callers"))
		sb.WriteString("\n")
		for i, c := range audit.Sorted(m.summary.ByCaller) {
			if i == 8 {
				break
			}
			sb.WriteString(metricStyle.Render(fmt.Sprintf("%s: %d", c.Key, c.Count)))
			sb.WriteString("\n")
		}
	}
	return sidebarStyle.Render(sb.String())
}

func (m Model) renderLog() string {
	var sb strings.Builder
	shown := 0
	for _, e := range m.entries {
		if m.onlyDenied && e.Status != audit.StatusDenied {
			continue
		}
		sb.WriteString(FormatEntry(e))
		sb.WriteString("\n")
		shown++
	}
	if shown == 0 {
		return footerStyle.Render("no entries yet")
	}
	return sb.String()
}

// FormatEntry renders one entry as a single styled line.
func FormatEntry(e audit.Entry) string {
	ts := e.Timestamp
	if t := e.Time(); !t.IsZero() {
		ts = t.Local().Format("15:04:05")
	}
	line := fmt.Sprintf("%s %s %s", ts, StatusStyle(e.Status).Render(fmt.Sprintf("%-8s", e.Status)), e.EventType)
	if tool, ok := e.Context["tool"].(string); ok && tool != "" {
		line += " " + tool
	}
	if caller := e.Caller(); caller != "" {
		line += " (" + caller + ")"
	}
	if reason, ok := e.Context["reason"].(string); ok && reason != "" {
		line += " " + footerStyle.Render(reason)
	}
	return line
}
