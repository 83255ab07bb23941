package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update elapsed times of pending requests.
type tickMsg time.Time

// state represents the current phase of the run.
type state int

const (
	stateInit    state = iota
	stateRunning       // requests are being issued
	stateDone          // every request line finished
	stateError         // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// pending is one tracked request shown in the loading overlay.
type pending struct {
	id        string
	method    string
	url       string
	startedAt time.Time
	slow      bool
}

// Model is the BubbleTea model for the loading overlay.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int
	now     func() time.Time

	serverURL  string
	inFlight   []pending
	refreshing bool
	ticking    bool

	succeeded int
	failed    int
	errMsg    string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
		now:     time.Now,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if len(m.inFlight) > 0 {
			return m, tickAfterSecond()
		}
		m.ticking = false
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Run messages ─────────────────────────────────────────────────────────

	case MsgBanner:
		m.serverURL = msg.ServerURL
		return m, nil

	case MsgSessionLoaded:
		m.addStatus(statusOK, "Using stored session from "+msg.Path)
		return m, nil

	case MsgSessionMissing:
		m.addStatus(statusInfo, "No stored session")
		return m, nil

	case MsgRequestStarted:
		m.state = stateRunning
		startedAt := msg.StartedAt
		if startedAt.IsZero() {
			startedAt = m.now()
		}
		m.inFlight = append(m.inFlight, pending{
			id:        msg.ID,
			method:    msg.Method,
			url:       msg.URL,
			startedAt: startedAt,
		})
		return m, m.startTicking()

	case MsgRequestSlow:
		for i := range m.inFlight {
			if m.inFlight[i].id == msg.ID {
				m.inFlight[i].slow = true
			}
		}
		return m, nil

	case MsgRequestStopped:
		m.removePending(msg.ID)
		return m, nil

	case MsgFlushed:
		m.inFlight = nil
		if msg.Count > 0 {
			m.addStatus(statusWarn, fmt.Sprintf("Cancelled %d in-flight request(s)", msg.Count))
		}
		return m, nil

	case MsgRefreshing:
		m.refreshing = true
		return m, nil

	case MsgRefreshOK:
		m.refreshing = false
		m.addStatus(statusOK, "Session refreshed")
		return m, nil

	case MsgRefreshFailed:
		m.refreshing = false
		m.addStatus(statusWarn, fmt.Sprintf("Session refresh failed: %v", msg.Err))
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusWarn, "Local session cleared")
		return m, nil

	case MsgLoginRequired:
		m.addStatus(statusWarn, "Please log in again ("+msg.Path+")")
		return m, nil

	case MsgResult:
		m.addStatus(statusOK, fmt.Sprintf("%s -> %d", msg.Line, msg.Status))
		return m, nil

	case MsgRequestFailed:
		m.addStatus(statusWarn, fmt.Sprintf("%s -> %v", msg.Line, msg.Err))
		return m, nil

	case MsgDone:
		m.succeeded = msg.Succeeded
		m.failed = msg.Failed
		m.inFlight = nil
		m.state = stateDone
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	return tea.NewView(m.render())
}

func (m Model) render() string {
	switch m.state {
	case stateDone:
		return m.viewDone()
	case stateError:
		return m.viewError()
	default:
		return m.viewMain()
	}
}

// viewMain shows the loading overlay while requests are pending.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	title := "  Storefront API  "
	if m.serverURL != "" {
		title = "  Storefront API · " + m.serverURL + "  "
	}
	b.WriteString(styleTitleBox.Render(title))
	b.WriteString("\n\n")

	switch {
	case m.refreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing session...\n")
	case len(m.inFlight) > 0:
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" Loading... (%d in flight)\n", len(m.inFlight)))
	case m.state == stateInit:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	default:
		b.WriteString(styleDim.Render("  Idle"))
		b.WriteString("\n")
	}

	for _, p := range m.inFlight {
		line := fmt.Sprintf("    %s %s  %s", p.method, p.url, formatDuration(m.now().Sub(p.startedAt)))
		if p.slow {
			b.WriteString(styleWarn.Render(line + "  taking longer than usual"))
		} else {
			b.WriteString(styleDim.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewDone is shown once every request line has finished.
func (m Model) viewDone() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.failed == 0 {
		b.WriteString(styleOK.Render("  ✓ All requests completed"))
	} else {
		b.WriteString(styleWarn.Render("  ⚠ Some requests failed"))
	}
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Succeeded: "))
	b.WriteString(fmt.Sprintf("%d\n", m.succeeded))
	b.WriteString(styleBold.Render("Failed:    "))
	b.WriteString(fmt.Sprintf("%d\n", m.failed))

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Request run failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

func (m *Model) removePending(id string) {
	for i, p := range m.inFlight {
		if p.id == id {
			m.inFlight = append(m.inFlight[:i], m.inFlight[i+1:]...)
			return
		}
	}
}

// startTicking arms the elapsed-time ticker unless it is already running.
func (m *Model) startTicking() tea.Cmd {
	if m.ticking {
		return nil
	}
	m.ticking = true
	return tickAfterSecond()
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
