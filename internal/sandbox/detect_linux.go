//go:build linux

package sandbox

import (
	"os"
	"strings"

	"github.com/ttulttul/localgpt/internal/types"
)

const (
	isLinux   = true
	isDarwin  = false
	isWindows = false
)

func detectPlatform() Capabilities {
	abi := detectLandlockABI()
	seccomp := probeSeccomp()

	var level types.SandboxLevel
	switch {
	case abi >= 4 && seccomp:
		level = types.LevelFull
	case abi >= 1 && seccomp:
		level = types.LevelStandard
	case seccomp:
		level = types.LevelMinimal
	default:
		level = types.LevelNone
	}

	return Capabilities{
		LandlockABI: abi,
		Seccomp:     seccomp,
		Level:       level,
	}
}

// probeSeccomp checks for the Seccomp field in /proc/self/status,
// present on every kernel since 3.8.
func probeSeccomp() bool {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "Seccomp:")
}
