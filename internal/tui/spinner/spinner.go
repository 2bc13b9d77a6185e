// Package spinner wraps a long-running function in an animated spinner,
// falling back to plain before/after lines when styling is off.
package spinner

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ttulttul/localgpt/internal/tui"
)

type model struct {
	spinner    spinner.Model
	message    string
	successMsg string
	done       bool
	err        error
	mu         *sync.Mutex
}

type doneMsg struct {
	err error
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.mu.Lock()
		m.done = true
		m.err = msg.err
		m.mu.Unlock()
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := tui.Prefix()
	if m.done {
		if m.err != nil {
			return fmt.Sprintf("%s %s %s\n", prefix, tui.StyleError.Render(tui.IconCross), m.err.Error())
		}
		return fmt.Sprintf("%s %s %s\n", prefix, tui.StyleSuccess.Render(tui.IconCheck), m.successMsg)
	}
	return fmt.Sprintf("%s %s %s\n", prefix, m.spinner.View(), tui.StyleMuted.Render(m.message+"..."))
}

// Run executes fn with an animated spinner showing message, then reports
// successMsg or the error. Plain mode skips the animation entirely.
func Run(message, successMsg string, fn func() error) error {
	if tui.IsPlainMode() {
		fmt.Printf("[localgpt] %s...\n", message)
		if err := fn(); err != nil {
			fmt.Fprintf(os.Stderr, "[localgpt] ERROR: %v\n", err)
			return err
		}
		fmt.Printf("[localgpt] OK: %s\n", successMsg)
		return nil
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(tui.ColorPrimary)

	m := model{
		spinner:    s,
		message:    message,
		successMsg: successMsg,
		mu:         &sync.Mutex{},
	}

	var fnErr error
	p := tea.NewProgram(m)
	go func() {
		fnErr = fn()
		p.Send(doneMsg{err: fnErr})
	}()

	if _, err := p.Run(); err != nil {
		// Bubbletea itself failed; fall back to plain reporting.
		if fnErr != nil {
			tui.PrintError(fnErr.Error())
			return fnErr
		}
		tui.PrintSuccess(successMsg)
		return nil
	}
	return fnErr
}
