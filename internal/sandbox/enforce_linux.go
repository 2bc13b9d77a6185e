//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ttulttul/localgpt/internal/types"
)

// applyPlatformSandbox enforces the policy on Linux:
// NO_NEW_PRIVS → Landlock ruleset → seccomp network filter.
//
// A failed stage is fatal - a command never runs with less enforcement
// than the policy level promises.
func applyPlatformSandbox(policy *Policy) error {
	if err := setNoNewPrivs(); err != nil {
		return &SetupError{Stage: "no_new_privs", Err: err}
	}

	if policy.Level >= types.LevelStandard {
		if err := applyLandlock(policy); err != nil {
			return &SetupError{Stage: "landlock", Err: err}
		}
	}

	if policy.Network.Mode != NetworkAllow {
		if err := applySeccompNetworkDeny(); err != nil {
			return &SetupError{Stage: "seccomp", Err: err}
		}
	}
	return nil
}

// setNprocLimit caps the process count. Linux-specific: RLIMIT_NPROC does
// not exist on macOS.
func setNprocLimit(n uint64) error {
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: n, Max: n}); err != nil {
		return fmt.Errorf("RLIMIT_NPROC: %w", err)
	}
	return nil
}

// execTarget replaces the child process with bash running the command.
func execTarget(_ *Policy, command string) {
	argv := []string{"/bin/bash", "-c", command}
	err := syscall.Exec(argv[0], argv, sanitizedChildEnv())
	fmt.Fprintf(os.Stderr, "%s: exec bash: %v\n", Sentinel, err)
	os.Exit(ExitSetupFailed)
}

// sanitizedChildEnv passes the environment through minus variables that
// leak agent credentials into sandboxed commands.
func sanitizedChildEnv() []string {
	return scrubEnv(os.Environ())
}
