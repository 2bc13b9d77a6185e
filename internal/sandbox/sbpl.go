package sandbox

import (
	"strings"

	"github.com/ttulttul/localgpt/internal/types"
)

// GenerateSBPLProfile renders a Seatbelt profile for sandbox-exec.
//
// Strategy: allow broad file reads (bash needs the dyld cache, system
// frameworks, and paths impractical to enumerate), then deny the home
// directory wholesale and re-allow the workspace and approved paths within
// it. Writes are restricted to workspace + extra write paths. SBPL
// evaluates rules in order - last match wins on conflicts.
func GenerateSBPLProfile(policy *Policy, home string) string {
	rules := []string{
		"(version 1)",
		"(deny default)",
		// Process lifecycle, signals, Mach IPC, sysctl, ptys: bash and
		// ordinary tools fail without these.
		"(allow process*)",
		"(allow signal)",
		"(allow mach*)",
		"(allow ipc*)",
		"(allow sysctl*)",
		"(allow pseudo-tty)",
		"(allow file-read*)",
		`(allow file-write* (subpath "/dev"))`,
	}

	if home != "" {
		rules = append(rules,
			"(deny file-read* file-write* (subpath \""+escapeSBPLPath(home)+"\"))")
	}

	readOnly := func(path string) {
		rules = append(rules,
			"(allow file-read* (subpath \""+escapeSBPLPath(path)+"\"))")
	}
	readWrite := func(path string) {
		rules = append(rules,
			"(allow file-read* file-write* (subpath \""+escapeSBPLPath(path)+"\"))")
	}

	for _, path := range policy.ReadOnlyPaths {
		readOnly(path)
	}
	if policy.Mode == types.ModeReadOnly {
		readOnly(policy.WorkspacePath)
	} else {
		readWrite(policy.WorkspacePath)
		for _, path := range policy.ExtraWritePaths {
			readWrite(path)
		}
	}

	// Credential dirs: explicit deny on top of the home-wide deny, so a
	// user-approved read path inside home can never resurrect them.
	for _, path := range policy.DenyPaths {
		rules = append(rules,
			"(deny file-read* file-write* (subpath \""+escapeSBPLPath(path)+"\"))")
	}

	switch policy.Network.Mode {
	case NetworkAllow:
		rules = append(rules, "(allow network*)")
	case NetworkProxy:
		rules = append(rules,
			"(deny network*)",
			"(allow network-outbound (local file \""+escapeSBPLPath(policy.Network.ProxySocket)+"\"))")
	default:
		rules = append(rules, "(deny network*)")
	}

	return strings.Join(rules, "\n")
}

// escapeSBPLPath escapes backslashes and quotes for SBPL string literals.
func escapeSBPLPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	return strings.ReplaceAll(path, `"`, `\"`)
}
