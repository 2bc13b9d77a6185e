//go:build darwin

package sandbox

import (
	"fmt"
	"os"
	"syscall"

	"github.com/ttulttul/localgpt/internal/types"
)

// applyPlatformSandbox on macOS does not restrict the current process;
// execTarget wraps the command in sandbox-exec with a generated SBPL
// profile instead. Verifying sandbox-exec here keeps failure inside the
// setup stage rather than a confusing exec error.
func applyPlatformSandbox(_ *Policy) error {
	if _, err := os.Stat(sandboxExecPath); err != nil {
		return &SetupError{Stage: "seatbelt", Err: fmt.Errorf("sandbox-exec not found: %w", err)}
	}
	return nil
}

// setNprocLimit is a no-op: RLIMIT_NPROC does not exist on macOS.
func setNprocLimit(_ uint64) error {
	return nil
}

// execTarget writes the SBPL profile to a private temp file and execs
// sandbox-exec, which applies the profile before running bash. Level None
// (full-access) execs bash directly with no profile.
func execTarget(policy *Policy, command string) {
	if policy.Level == types.LevelNone {
		argv := []string{"/bin/bash", "-c", command}
		err := syscall.Exec(argv[0], argv, scrubEnv(os.Environ()))
		fmt.Fprintf(os.Stderr, "%s: exec bash: %v\n", Sentinel, err)
		os.Exit(ExitSetupFailed)
	}

	home, _ := os.UserHomeDir()
	profile := GenerateSBPLProfile(policy, home)

	f, err := os.CreateTemp("", "localgpt-sbpl-*.sb")
	if err == nil {
		_, err = f.WriteString(profile)
		f.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: write SBPL profile: %v\n", Sentinel, err)
		os.Exit(ExitSetupFailed)
	}

	argv := []string{sandboxExecPath, "-f", f.Name(), "/bin/bash", "-c", command}
	execErr := syscall.Exec(argv[0], argv, scrubEnv(os.Environ()))
	fmt.Fprintf(os.Stderr, "%s: exec sandbox-exec: %v\n", Sentinel, execErr)
	os.Exit(ExitSetupFailed)
}
