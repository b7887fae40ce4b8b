package progress

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agusx1211/halfreduce/internal/driver"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	doneStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// snapshotMsg wraps a driver.Snapshot for the bubbletea event loop.
type snapshotMsg driver.Snapshot

type tickMsg struct{}

// Model is the interactive progress dashboard entered automatically when
// stdout is a TTY and -q is not set (spec §6 --monitor is the browsable
// variant of this same data; this is the terminal one, mirroring the
// teacher's tui.RunApp being the default interactive surface).
type Model struct {
	ch    <-chan driver.Snapshot
	last  driver.Snapshot
	done  bool
	width int
}

// NewModel returns a dashboard Model that reads snapshots from ch until it
// is closed or a Done snapshot arrives.
func NewModel(ch <-chan driver.Snapshot) Model {
	return Model{ch: ch}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), tickEvery())
}

func (m Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.ch
		if !ok {
			return snapshotMsg(m.last)
		}
		return snapshotMsg(s)
	}
}

func tickEvery() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.last = driver.Snapshot(msg)
		if m.last.Done {
			m.done = true
			return m, tea.Quit
		}
		return m, m.waitForSnapshot()
	case tickMsg:
		return m, tickEvery()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	s := m.last
	status := valueStyle.Render("searching")
	if m.done {
		status = doneStyle.Render("done")
	}
	out := fmt.Sprintf(
		"%s\n\n%s %s\n%s %d\n%s %d bytes (depth %d)\n%s %d\n%s %s\n%s %s\n\n%s\n",
		titleStyle.Render("halfreduce"),
		labelStyle.Render("status:"), status,
		labelStyle.Render("tree nodes:"), s.NodeCount,
		labelStyle.Render("best candidate:"), s.BestSize, s.BestDepth,
		labelStyle.Render("in-flight:"), s.Unprocessed,
		labelStyle.Render("collapsed time:"), s.CollapsedTime.Round(time.Millisecond),
		labelStyle.Render("elapsed:"), s.Elapsed.Round(time.Millisecond),
		labelStyle.Render("press q to detach (search continues in the background)"),
	)
	return m.truncateLines(out)
}

// truncateLines clips each line of s to the terminal's reported width,
// ANSI-escape aware, so a narrow pane never wraps a styled dashboard line
// onto the next row (mirrors runtui/model_view.go's per-line ansi.Truncate
// before handing rendered text to bubbletea).
func (m Model) truncateLines(s string) string {
	if m.width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = ansi.Truncate(line, m.width, "")
	}
	return strings.Join(lines, "\n")
}

// Run starts the bubbletea dashboard program against ch, blocking until
// the search completes or the user detaches.
func Run(ch <-chan driver.Snapshot) error {
	_, err := tea.NewProgram(NewModel(ch)).Run()
	return err
}
