//go:build unix

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ttulttul/localgpt/internal/types"
)

// ChildMain is the sandbox child entry point, reached when the binary
// detects the sentinel argv[0]. Never returns: it either execs the target
// or exits with a distinguished code.
//
// argv layout (argv[0] is the sentinel):
//
//	argv[1] = policy JSON
//	argv[2] = "--"
//	argv[3:] = "bash", "-c", <command>; the last element is the command
//
// Setup order: rlimits → NO_NEW_PRIVS → filesystem isolation → network
// filter → exec. The seccomp filter does not cover the Landlock syscalls;
// it is installed last so the defense order is the same on every path.
func ChildMain(args []string) {
	if len(args) < 4 || args[2] != "--" {
		fmt.Fprintln(os.Stderr, Sentinel+": expected <policy-json> -- <command>")
		os.Exit(ExitPolicyParse)
	}

	policy, err := ParsePolicy(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Sentinel, err)
		os.Exit(ExitPolicyParse)
	}
	command := args[len(args)-1]

	if err := applyRlimits(policy); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Sentinel, &SetupError{Stage: "rlimits", Err: err})
		os.Exit(ExitSetupFailed)
	}

	if policy.Level > types.LevelNone {
		if err := applyPlatformSandbox(policy); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", Sentinel, err)
			os.Exit(ExitSetupFailed)
		}
	}

	execTarget(policy, command)
}

// applyRlimits caps file size, process count, and open files.
func applyRlimits(policy *Policy) error {
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{
		Cur: policy.MaxFileSizeBytes, Max: policy.MaxFileSizeBytes,
	}); err != nil {
		return fmt.Errorf("RLIMIT_FSIZE: %w", err)
	}

	if err := setNprocLimit(uint64(policy.MaxProcesses)); err != nil {
		return err
	}

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: 256, Max: 256}); err != nil {
		return fmt.Errorf("RLIMIT_NOFILE: %w", err)
	}
	return nil
}

// setNoNewPrivs flips the one-way PR_SET_NO_NEW_PRIVS bit, required by
// both Landlock and unprivileged seccomp, and a hardening win on its own.
func setNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err)
	}
	return nil
}
