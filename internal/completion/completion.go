// Package completion provides CLI tab-completion for localgpt.
//
// The binary handles its own completions: when invoked with COMP_LINE set
// by the shell, it prints matching completions and exits. One-time install
// works across bash, zsh, and fish.
package completion

import (
	"os"

	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/install"
	"github.com/posener/complete/v2/predict"
)

// command is the localgpt CLI completion tree.
var command = &complete.Command{
	Sub: map[string]*complete.Command{
		"md": {
			Sub: map[string]*complete.Command{
				"sign":   {},
				"verify": {},
				"audit": {
					Flags: map[string]complete.Predictor{
						"json":   predict.Nothing,
						"filter": predict.Set{
							"created", "signed", "verified", "tamper_detected",
							"missing", "unsigned", "manifest_corrupted",
							"suspicious_content", "file_changed", "write_blocked",
							"chain_recovery",
						},
						"export": predict.Files("*.zst"),
					},
				},
				"status": {},
			},
		},
		"sandbox": {
			Sub: map[string]*complete.Command{
				"status": {},
				"test":   {},
			},
		},
		"init":       {},
		"completion": {Flags: map[string]complete.Predictor{"uninstall": predict.Nothing}},
		"version":    {},
		"help":       {},
	},
	Flags: map[string]complete.Predictor{
		"config":   predict.Files("*.yaml"),
		"no-color": predict.Nothing,
	},
}

// Run checks whether the binary was invoked for shell completion. If so it
// outputs completions and returns true; the caller should exit.
func Run() bool {
	if os.Getenv("COMP_LINE") != "" || os.Getenv("COMP_INSTALL") != "" || os.Getenv("COMP_UNINSTALL") != "" {
		command.Complete("localgpt")
		return true
	}
	return false
}

// Install sets up shell completion for detected shells.
func Install() error {
	return install.Install("localgpt")
}

// Uninstall removes shell completion.
func Uninstall() error {
	return install.Uninstall("localgpt")
}
