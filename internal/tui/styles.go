// Package tui provides terminal output styling for the CLI commands.
// All styling degrades to plain text for pipes, CI, and NO_COLOR.
package tui

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// plainMode disables colors and icons: clean text for CI and pipes.
var (
	plainMode bool
	plainOnce sync.Once
	plainMu   sync.RWMutex
)

// initPlainMode auto-detects on first use.
// Precedence: NO_COLOR > TTY detection > terminal color support.
func initPlainMode() {
	plainOnce.Do(func() {
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			plainMode = true
			return
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // Fd fits in int
			plainMode = true
			return
		}
		if termenv.ColorProfile() == termenv.Ascii {
			plainMode = true
		}
	})
}

// SetPlainMode overrides detection; call before any output (e.g. when
// parsing --no-color).
func SetPlainMode(plain bool) {
	plainMu.Lock()
	defer plainMu.Unlock()
	plainMode = plain
	plainOnce.Do(func() {})
}

// IsPlainMode reports whether styling is disabled.
func IsPlainMode() bool {
	initPlainMode()
	plainMu.RLock()
	defer plainMu.RUnlock()
	return plainMode
}

// Color palette - warm tones, adapting to the OS theme.
var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#B5651D", Dark: "#F5A623"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#8B6914", Dark: "#F0C674"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#5F7A3A", Dark: "#A8B545"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#B5382A", Dark: "#E05A3A"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFD93D"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A89984"}
)

// Reusable styles.
var (
	StyleTitle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleBold    = lipgloss.NewStyle().Bold(true)

	stylePrefix = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
)

// Icons.
const (
	IconCheck   = "✓"
	IconCross   = "✗"
	IconWarning = "!"
	IconDot     = "·"
)

// Prefix returns the branded [localgpt] prefix.
func Prefix() string {
	if IsPlainMode() {
		return "[localgpt]"
	}
	return stylePrefix.Render("[localgpt]")
}
