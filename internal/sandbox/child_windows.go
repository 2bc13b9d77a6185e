//go:build windows

package sandbox

import (
	"fmt"
	"os"
)

// ChildMain exists for the dispatcher's benefit only: Windows enforcement
// happens in the parent (restricted token + Job Object), so the sentinel
// entry path is never taken there.
func ChildMain(_ []string) {
	fmt.Fprintln(os.Stderr, Sentinel+": re-exec dispatch is not used on windows")
	os.Exit(ExitPolicyParse)
}
