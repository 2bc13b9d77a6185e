//go:build unix && !linux && !darwin

package sandbox

import (
	"fmt"
	"os"
	"syscall"
)

// applyPlatformSandbox has no mechanism on this platform; level None means
// rlimits and the timeout are the only controls, and the user has already
// been told once.
func applyPlatformSandbox(_ *Policy) error {
	return &SetupError{Stage: "platform", Err: fmt.Errorf("no sandbox mechanism on this platform")}
}

func setNprocLimit(_ uint64) error {
	return nil
}

func execTarget(_ *Policy, command string) {
	argv := []string{"/bin/sh", "-c", command}
	err := syscall.Exec(argv[0], argv, scrubEnv(os.Environ()))
	fmt.Fprintf(os.Stderr, "%s: exec: %v\n", Sentinel, err)
	os.Exit(ExitSetupFailed)
}
