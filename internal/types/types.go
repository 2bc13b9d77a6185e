// Package types defines common type-safe enums used across the codebase.
package types

// SandboxMode is the user-facing sandbox selector. The resolver expands it
// into a concrete sandbox policy.
type SandboxMode string

const (
	// ModeWorkspaceWrite allows writes inside the workspace and /tmp,
	// read-only system dirs, denies credentials and network.
	ModeWorkspaceWrite SandboxMode = "workspace-write"
	// ModeReadOnly allows reads only; no writes anywhere, no network.
	ModeReadOnly SandboxMode = "read-only"
	// ModeFullAccess is unrestricted. Requires explicit opt-in.
	ModeFullAccess SandboxMode = "full-access"
)

// Valid returns true if the SandboxMode is a known valid value.
func (m SandboxMode) Valid() bool {
	return m == ModeWorkspaceWrite || m == ModeReadOnly || m == ModeFullAccess
}

// SandboxLevel is the enforcement tier available on the host kernel.
// Levels are ordered: None < Minimal < Standard < Full.
type SandboxLevel int

const (
	// LevelNone means no kernel mechanism is available; rlimits and the
	// timeout are the only controls.
	LevelNone SandboxLevel = iota
	// LevelMinimal means seccomp only - network blocking without
	// filesystem isolation.
	LevelMinimal
	// LevelStandard means Landlock v1-v3 plus seccomp.
	LevelStandard
	// LevelFull means Landlock v4+ plus seccomp (Linux), a full Seatbelt
	// profile (macOS), or an AppContainer (Windows).
	LevelFull
)

// String returns the user-visible level name.
func (l SandboxLevel) String() string {
	switch l {
	case LevelFull:
		return "Full"
	case LevelStandard:
		return "Standard"
	case LevelMinimal:
		return "Minimal"
	default:
		return "None"
	}
}

// MarshalText implements encoding.TextMarshaler so the level survives the
// policy JSON handed to the sandbox child.
func (l SandboxLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SandboxLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Full":
		*l = LevelFull
	case "Standard":
		*l = LevelStandard
	case "Minimal":
		*l = LevelMinimal
	default:
		*l = LevelNone
	}
	return nil
}

// ParseSandboxLevel converts a config string to a SandboxLevel cap.
// "auto", "full", and unknown values return Full (no cap).
func ParseSandboxLevel(s string) SandboxLevel {
	switch s {
	case "none":
		return LevelNone
	case "minimal":
		return LevelMinimal
	case "standard":
		return LevelStandard
	}
	return LevelFull
}

// LogLevel is the configured logging verbosity.
type LogLevel string

const (
	LogTrace LogLevel = "trace"
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Valid returns true if the LogLevel is a known valid value.
func (l LogLevel) Valid() bool {
	switch l {
	case LogTrace, LogDebug, LogInfo, LogWarn, LogError, "":
		return true
	}
	return false
}
