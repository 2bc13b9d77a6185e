//go:build darwin

package sandbox

import (
	"os"

	"github.com/ttulttul/localgpt/internal/types"
)

const (
	isLinux   = false
	isDarwin  = true
	isWindows = false
)

const sandboxExecPath = "/usr/bin/sandbox-exec"

func detectPlatform() Capabilities {
	_, err := os.Stat(sandboxExecPath)
	seatbelt := err == nil

	level := types.LevelNone
	if seatbelt {
		level = types.LevelFull
	}
	return Capabilities{Seatbelt: seatbelt, Level: level}
}
