// Package config loads the LocalGPT configuration.
//
// The config file lives at <state_dir>/config.yaml. Everything has a
// working default: a missing file yields DefaultConfig(). Secrets (the
// telemetry encryption key) come from the environment, never from the file
// or CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ttulttul/localgpt/internal/logger"
	"github.com/ttulttul/localgpt/internal/types"
)

var cfgLog = logger.New("config")

// Config is the on-disk LocalGPT configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Agent     AgentConfig     `yaml:"agent"`
	Security  SecurityConfig  `yaml:"security"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// PathsConfig locates the state directory and workspace.
type PathsConfig struct {
	// StateDir holds the device key, audit log, config, and telemetry DB.
	// Defaults to ~/.localgpt.
	StateDir string `yaml:"state_dir"`
	// Workspace holds the user's markdown files including LocalGPT.md.
	// Defaults to <state_dir>/workspace.
	Workspace string `yaml:"workspace"`
}

// AgentConfig holds the context-window accounting the assembler needs.
type AgentConfig struct {
	ContextWindow int `yaml:"context_window" validate:"gt=0"`
	ReserveTokens int `yaml:"reserve_tokens" validate:"gte=0"`
}

// SecurityConfig tunes the policy subsystem.
type SecurityConfig struct {
	// DisableSuffix drops the hardcoded suffix. Exists for debugging the
	// context assembler only; the default is always on.
	DisableSuffix bool `yaml:"disable_suffix"`
	// DisablePolicy skips user policy injection even when Valid.
	DisablePolicy bool `yaml:"disable_policy"`
	// WatchPolicy enables the mid-session policy file watcher.
	WatchPolicy bool `yaml:"watch_policy"`
	// ProtectedGlobs are extra glob patterns the write guard denies,
	// unioned with the built-in protected set.
	ProtectedGlobs []string `yaml:"protected_globs"`
}

// NetworkConfig selects the sandbox network policy.
type NetworkConfig struct {
	// Policy is "deny" or "proxy".
	Policy string `yaml:"policy" validate:"oneof=deny proxy"`
	// ProxySocket is the Unix socket for the proxy policy.
	ProxySocket string `yaml:"proxy_socket"`
}

// AllowPathsConfig lists user-approved extra paths, unioned with the
// derived sets.
type AllowPathsConfig struct {
	Read  []string `yaml:"read"`
	Write []string `yaml:"write"`
}

// SandboxConfig tunes the command sandbox.
type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`
	// Mode is the user-facing selector: workspace-write, read-only,
	// full-access.
	Mode types.SandboxMode `yaml:"mode" validate:"oneof=workspace-write read-only full-access"`
	// Level caps enforcement: auto, full, standard, minimal, none.
	Level            string           `yaml:"level" validate:"oneof=auto full standard minimal none"`
	TimeoutSecs      uint64           `yaml:"timeout_secs" validate:"gt=0"`
	MaxOutputBytes   uint64           `yaml:"max_output_bytes" validate:"gt=0"`
	MaxFileSizeBytes uint64           `yaml:"max_file_size_bytes" validate:"gt=0"`
	MaxProcesses     uint32           `yaml:"max_processes" validate:"gt=0"`
	Network          NetworkConfig    `yaml:"network"`
	AllowPaths       AllowPathsConfig `yaml:"allow_paths"`
}

// TelemetryConfig holds the execution-log database settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// DBPath defaults to <state_dir>/localgpt.telemetry.db.
	DBPath string `yaml:"db_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   types.LogLevel `yaml:"level"`
	NoColor bool           `yaml:"no_color"`
}

// ConfigFilename inside the state directory.
const ConfigFilename = "config.yaml"

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".localgpt")
	return &Config{
		Paths: PathsConfig{
			StateDir:  stateDir,
			Workspace: filepath.Join(stateDir, "workspace"),
		},
		Agent: AgentConfig{
			ContextWindow: 128000,
			ReserveTokens: 8000,
		},
		Security: SecurityConfig{
			WatchPolicy: true,
		},
		Sandbox: SandboxConfig{
			Enabled:          true,
			Mode:             types.ModeWorkspaceWrite,
			Level:            "auto",
			TimeoutSecs:      120,
			MaxOutputBytes:   1 << 20, // 1 MiB
			MaxFileSizeBytes: 64 << 20,
			MaxProcesses:     256,
			Network:          NetworkConfig{Policy: "deny"},
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Log: LogConfig{Level: types.LogInfo},
	}
}

// Load reads the config from the default location, or from path when
// non-empty. A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(cfg.Paths.StateDir, ConfigFilename)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfgLog.Debug("no config at %s, using defaults", path)
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Unless the file names a workspace, derive it from the (possibly
	// overridden) state dir in applyDefaults.
	cfg.Paths.Workspace = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills derived paths and expands ~ after YAML decoding.
func (c *Config) applyDefaults() {
	c.Paths.StateDir = ExpandTilde(c.Paths.StateDir)
	if c.Paths.Workspace == "" {
		c.Paths.Workspace = filepath.Join(c.Paths.StateDir, "workspace")
	}
	c.Paths.Workspace = ExpandTilde(c.Paths.Workspace)
	if c.Telemetry.DBPath == "" {
		c.Telemetry.DBPath = filepath.Join(c.Paths.StateDir, "localgpt.telemetry.db")
	}
	for i, p := range c.Sandbox.AllowPaths.Read {
		c.Sandbox.AllowPaths.Read[i] = ExpandTilde(p)
	}
	for i, p := range c.Sandbox.AllowPaths.Write {
		c.Sandbox.AllowPaths.Write[i] = ExpandTilde(p)
	}
}

// Validate checks field constraints via struct tags plus the cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if !c.Log.Level.Valid() {
		return fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error", c.Log.Level)
	}
	if c.Sandbox.Network.Policy == "proxy" && c.Sandbox.Network.ProxySocket == "" {
		return fmt.Errorf("sandbox.network.proxy_socket required when policy is proxy")
	}
	// The device key must live outside the workspace; identical or nested
	// paths would put it in reach of agent tools. Workspace inside the
	// state dir is the normal layout.
	if c.Paths.StateDir == c.Paths.Workspace {
		return fmt.Errorf("paths.state_dir must not equal paths.workspace")
	}
	if within(c.Paths.StateDir, c.Paths.Workspace) {
		return fmt.Errorf("paths.state_dir must not be inside paths.workspace")
	}
	return nil
}

// within reports whether child is path-lexically inside parent.
func within(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
