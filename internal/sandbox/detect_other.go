//go:build !linux && !darwin && !windows

package sandbox

import (
	"github.com/ttulttul/localgpt/internal/types"
)

const (
	isLinux   = false
	isDarwin  = false
	isWindows = false
)

func detectPlatform() Capabilities {
	return Capabilities{Level: types.LevelNone}
}
