package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // bright blue

	runIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	completedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42")) // green

	failedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")) // red

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	logBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")) // dim gray

	logTimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // amber

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))
)

// errStreamEnded reports a stream that closed before the terminal event.
var errStreamEnded = errors.New("stream ended before the run finished")

type eventMsg struct {
	ev progress.Event
}

type streamEndMsg struct {
	err error
}

type watchModel struct {
	runID  string
	source <-chan tea.Msg

	spinner spinner.Model
	bar     progressbar.Model
	logs    viewport.Model
	lines   []string
	last    string

	processed int
	total     int
	stats     model.RunStats
	final     *progress.Event
	err       error

	width  int
	height int
}

func newWatchModel(runID string, source <-chan tea.Msg) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle
	return watchModel{
		runID:   runID,
		source:  source,
		spinner: sp,
		bar:     progressbar.New(progressbar.WithDefaultGradient()),
		logs:    viewport.New(80, 20),
	}
}

// next waits for the stream's next message.
func (m watchModel) next() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		msg, ok := <-source
		if !ok {
			return streamEndMsg{}
		}
		return msg
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(m.width-20, 10)
		// Header, bar, stats (3) + log border (2) + status bar (1).
		m.logs.Width = max(m.width-2, 20)
		m.logs.Height = max(m.height-6, 3)
		m.logs.SetContent(strings.Join(m.lines, "\n"))
		m.logs.GotoBottom()
		return m, nil

	case eventMsg:
		cmd := m.apply(msg.ev)
		if m.final != nil {
			return m, cmd
		}
		return m, tea.Batch(cmd, m.next())

	case streamEndMsg:
		if m.final == nil {
			m.err = msg.err
			if m.err == nil {
				m.err = errStreamEnded
			}
		}
		return m, nil

	case spinner.TickMsg:
		if m.done() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressbar.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progressbar.Model)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds one event into the view state.
func (m *watchModel) apply(ev progress.Event) tea.Cmd {
	if ev.Stats != nil {
		m.stats = *ev.Stats
	}

	var cmd tea.Cmd
	switch ev.Type {
	case progress.EventLog:
		m.appendLine(ev)
	case progress.EventProgress:
		m.processed, m.total = ev.Processed, ev.Total
		cmd = m.bar.SetPercent(m.percent())
	case progress.EventComplete, progress.EventError:
		final := ev
		m.final = &final
		if ev.Report != nil {
			m.processed, m.total = ev.Report.ProcessedUnits, ev.Report.TotalUnits
		}
		if ev.Type == progress.EventComplete {
			cmd = m.bar.SetPercent(1)
		} else if ev.Message != "" && ev.Message != m.last {
			m.appendLine(ev)
		}
	}
	return cmd
}

func (m *watchModel) appendLine(ev progress.Event) {
	ts := logTimeStyle.Render(ev.At.Local().Format("15:04:05"))
	msg := ev.Message
	switch ev.Level {
	case model.LogWarn:
		msg = warnStyle.Render(msg)
	case model.LogError:
		msg = errorStyle.Render(msg)
	}
	m.lines = append(m.lines, ts+" "+msg)
	m.last = ev.Message
	m.logs.SetContent(strings.Join(m.lines, "\n"))
	m.logs.GotoBottom()
}

func (m watchModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.processed)/float64(m.total), 1)
}

func (m watchModel) done() bool {
	return m.final != nil || m.err != nil
}

func (m watchModel) View() string {
	var status string
	switch {
	case m.final != nil && m.final.Type == progress.EventComplete:
		status = completedStyle.Render("✓ completed")
	case m.final != nil:
		status = failedStyle.Render("✗ failed")
	case m.err != nil:
		status = failedStyle.Render("✗ " + m.err.Error())
	default:
		status = m.spinner.View() + " running"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("jobsync") + " " + runIDStyle.Render("run "+m.runID) + "  " + status + "\n")
	b.WriteString(m.bar.View() + fmt.Sprintf("  %d/%d units", m.processed, m.total) + "\n")
	b.WriteString(statsStyle.Render(statsLine(&m.stats)) + "\n")
	b.WriteString(logBorderStyle.Render(m.logs.View()) + "\n")

	help := "q quit · ↑/↓ scroll"
	if m.done() {
		help = "run finished · q quit · ↑/↓ scroll"
	}
	b.WriteString(statusBarStyle.Width(max(m.width, 0)).Render(help))
	return b.String()
}

// Run follows runID in an interactive view until the user quits. It
// returns the terminal event when the run finished while watched.
func Run(ctx context.Context, client *Client, runID string) (*progress.Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan tea.Msg, 64)
	go func() {
		defer close(msgs)
		for ev, err := range client.Stream(ctx, runID) {
			msg := tea.Msg(eventMsg{ev: ev})
			if err != nil {
				msg = streamEndMsg{err: err}
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	p := tea.NewProgram(newWatchModel(runID, msgs), tea.WithAltScreen(), tea.WithContext(ctx))
	result, err := p.Run()
	if err != nil {
		return nil, err
	}
	final := result.(watchModel)
	if final.final != nil {
		return final.final, nil
	}
	return nil, final.err
}
