// Package sandbox implements the kernel-enforced execution jail for shell
// and file-mutating tool calls.
//
// The parent re-executes its own binary with argv[0] set to the sentinel
// "localgpt-sandbox". The child is a fresh process - no inherited heap or
// thread state - that applies resource limits and platform enforcement
// (Landlock + seccomp-bpf on Linux, Seatbelt on macOS, restricted tokens
// on Windows) before exec'ing the target command. Once applied, the
// restrictions are irrevocable.
package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ttulttul/localgpt/internal/config"
	"github.com/ttulttul/localgpt/internal/logger"
	"github.com/ttulttul/localgpt/internal/types"
)

var log = logger.New("sandbox")

// Sentinel is the argv[0] value that routes the binary into the sandbox
// child entry point.
const Sentinel = "localgpt-sandbox"

// Network policy modes.
const (
	NetworkDeny  = "deny"
	NetworkProxy = "proxy"
	NetworkAllow = "allow"
)

// NetworkPolicy selects the child's network access.
type NetworkPolicy struct {
	// Mode is deny, proxy, or allow.
	Mode string `json:"mode"`
	// ProxySocket is the permitted Unix socket when Mode is proxy.
	ProxySocket string `json:"proxy_socket,omitempty"`
}

// Policy is the serializable sandbox policy passed to the re-exec'd child
// as its first argument. Constructed per command, never persisted.
type Policy struct {
	// WorkspacePath gets read+write access.
	WorkspacePath string `json:"workspace_path"`
	// ReadOnlyPaths are system dirs plus user-configured read paths.
	ReadOnlyPaths []string `json:"read_only_paths"`
	// ExtraWritePaths are /tmp, the per-process scratch dir, and
	// user-configured write paths.
	ExtraWritePaths []string `json:"extra_write_paths"`
	// DenyPaths are credential directories, enforced by omission on Linux
	// (deny-by-default) and by explicit deny rules on macOS.
	DenyPaths []string `json:"deny_paths"`
	// Network is the network policy.
	Network NetworkPolicy `json:"network"`
	// TimeoutSecs kills the command after this long.
	TimeoutSecs uint64 `json:"timeout_secs"`
	// MaxOutputBytes caps captured stdout+stderr.
	MaxOutputBytes uint64 `json:"max_output_bytes"`
	// MaxFileSizeBytes is RLIMIT_FSIZE.
	MaxFileSizeBytes uint64 `json:"max_file_size_bytes"`
	// MaxProcesses is RLIMIT_NPROC.
	MaxProcesses uint32 `json:"max_processes"`
	// Level is the enforcement tier the child should apply.
	Level types.SandboxLevel `json:"level"`
	// Mode is the user-facing mode the policy was derived from.
	Mode types.SandboxMode `json:"mode"`
}

// Marshal serializes the policy for the child argv.
func (p *Policy) Marshal() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("serialize sandbox policy: %w", err)
	}
	return string(data), nil
}

// ParsePolicy deserializes the child argv policy.
func ParsePolicy(s string) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("parse sandbox policy: %w", err)
	}
	if p.WorkspacePath == "" && p.Mode != types.ModeFullAccess {
		return nil, fmt.Errorf("sandbox policy missing workspace path")
	}
	return &p, nil
}

// defaultDenyPaths are the credential directories sandboxed commands must
// never reach, regardless of mode (except full-access).
func defaultDenyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	names := []string{".ssh", ".aws", ".gnupg", ".config", ".docker", ".kube", ".npmrc", ".pypirc", ".netrc"}
	paths := make([]string, 0, len(names))
	for _, n := range names {
		paths = append(paths, filepath.Join(home, n))
	}
	return paths
}

// defaultReadOnlyPaths are the system directories most commands need.
func defaultReadOnlyPaths() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{
			"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc",
			"/dev/null", "/dev/urandom", "/dev/zero", "/proc/self",
		}
	case "darwin":
		return []string{
			"/usr", "/bin", "/sbin", "/Library", "/System", "/etc", "/dev",
			"/var/folders", "/private/tmp", "/private/var",
			"/opt/homebrew", "/Applications",
		}
	default:
		return nil
	}
}

// ScratchDir is the per-process writable scratch directory.
func ScratchDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("localgpt-scratch-%d", os.Getpid()))
}

// Resolve derives a Policy from the high-level mode plus workspace path.
// Deterministic: same inputs, same policy. No user-authored sandbox policy
// exists - everything flows from {mode, workspace} and the config knobs.
func Resolve(cfg *config.SandboxConfig, workspace string, level types.SandboxLevel) Policy {
	mode := cfg.Mode
	if !cfg.Enabled {
		mode = types.ModeFullAccess
	}
	if !mode.Valid() {
		mode = types.ModeWorkspaceWrite
	}

	p := Policy{
		WorkspacePath:    workspace,
		TimeoutSecs:      cfg.TimeoutSecs,
		MaxOutputBytes:   cfg.MaxOutputBytes,
		MaxFileSizeBytes: cfg.MaxFileSizeBytes,
		MaxProcesses:     cfg.MaxProcesses,
		Level:            level,
		Mode:             mode,
	}

	switch mode {
	case types.ModeFullAccess:
		// Unrestricted: no path rules, network open, no kernel level.
		p.Network = NetworkPolicy{Mode: NetworkAllow}
		p.Level = types.LevelNone
		return p

	case types.ModeReadOnly:
		// Everything readable, nothing writable anywhere.
		p.ReadOnlyPaths = append(defaultReadOnlyPaths(), workspace)
		p.ReadOnlyPaths = append(p.ReadOnlyPaths, cfg.AllowPaths.Read...)
		p.DenyPaths = defaultDenyPaths()

	default: // workspace-write
		p.ReadOnlyPaths = append(defaultReadOnlyPaths(), cfg.AllowPaths.Read...)
		p.ExtraWritePaths = append([]string{os.TempDir(), ScratchDir()}, cfg.AllowPaths.Write...)
		p.DenyPaths = defaultDenyPaths()
	}

	if cfg.Network.Policy == NetworkProxy && cfg.Network.ProxySocket != "" {
		p.Network = NetworkPolicy{Mode: NetworkProxy, ProxySocket: cfg.Network.ProxySocket}
	} else {
		p.Network = NetworkPolicy{Mode: NetworkDeny}
	}
	return p
}

// IsPathDenied reports whether path falls under a credential deny path.
func (p *Policy) IsPathDenied(path string) bool {
	canonical := path
	if real, err := filepath.EvalSymlinks(path); err == nil {
		canonical = real
	}
	for _, deny := range p.DenyPaths {
		denyCanonical := deny
		if real, err := filepath.EvalSymlinks(deny); err == nil {
			denyCanonical = real
		}
		if canonical == denyCanonical || isSubpath(canonical, denyCanonical) {
			return true
		}
	}
	return false
}

func isSubpath(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
