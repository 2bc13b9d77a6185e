package sandbox

import (
	"fmt"

	"github.com/ttulttul/localgpt/internal/types"
)

// Capabilities describes the sandbox mechanisms the host supports.
type Capabilities struct {
	// LandlockABI is the kernel's Landlock ABI version, 0 if absent
	// (Linux only).
	LandlockABI int
	// Seccomp reports seccomp-bpf availability (Linux only).
	Seccomp bool
	// Seatbelt reports sandbox-exec availability (macOS only).
	Seatbelt bool
	// RestrictedToken reports restricted-token support (Windows only).
	RestrictedToken bool
	// Level is the highest enforcement level available.
	Level types.SandboxLevel
}

// Detect probes the current system. Non-destructive: the Landlock probe
// only asks the kernel for its ABI version and restricts nothing.
func Detect() Capabilities {
	return detectPlatform()
}

// EffectiveLevel clamps the detected level to the configured cap.
func (c Capabilities) EffectiveLevel(configLevel string) types.SandboxLevel {
	ceiling := types.ParseSandboxLevel(configLevel)
	if ceiling < c.Level {
		return ceiling
	}
	return c.Level
}

// StatusLines renders the capability table for `sandbox status`.
func (c Capabilities) StatusLines() []string {
	var lines []string
	if c.LandlockABI > 0 {
		lines = append(lines, fmt.Sprintf("  Landlock:  v%-3d                    ok", c.LandlockABI))
	} else if isLinux {
		lines = append(lines, "  Landlock:  not available           --")
	}
	if isLinux {
		if c.Seccomp {
			lines = append(lines, "  Seccomp:   available               ok")
		} else {
			lines = append(lines, "  Seccomp:   not available           --")
		}
	}
	if isDarwin {
		if c.Seatbelt {
			lines = append(lines, "  Seatbelt:  available               ok")
		} else {
			lines = append(lines, "  Seatbelt:  not available           --")
		}
	}
	if isWindows {
		if c.RestrictedToken {
			lines = append(lines, "  Token:     restricted              ok")
		} else {
			lines = append(lines, "  Token:     not available           --")
		}
	}
	if !isLinux && !isDarwin && !isWindows {
		lines = append(lines, "  Platform:  unsupported             --")
	}
	lines = append(lines, fmt.Sprintf("  Level:     %s", c.Level))
	return lines
}

// Platform returns a one-line description of the active mechanism.
func (c Capabilities) Platform() string {
	switch {
	case c.LandlockABI >= 4:
		return fmt.Sprintf("Landlock ABI v%d + seccomp (files + network)", c.LandlockABI)
	case c.LandlockABI >= 1:
		return fmt.Sprintf("Landlock ABI v%d + seccomp (best effort)", c.LandlockABI)
	case c.Seccomp:
		return "seccomp only (network deny, no filesystem isolation)"
	case c.Seatbelt:
		return "Seatbelt (sandbox-exec SBPL profile)"
	case c.RestrictedToken:
		return "restricted token + Job Object"
	default:
		return "no sandbox mechanism available"
	}
}
