//go:build windows

package sandbox

import (
	"github.com/ttulttul/localgpt/internal/types"
)

const (
	isLinux   = false
	isDarwin  = false
	isWindows = true
)

func detectPlatform() Capabilities {
	// Restricted tokens and Job Objects exist on every supported Windows
	// version. AppContainer spawning (LevelFull) is not implemented, so
	// the ceiling is Standard.
	return Capabilities{RestrictedToken: true, Level: types.LevelStandard}
}
