package tui

import (
	"fmt"
	"os"
)

// PrintSuccess prints a styled success line.
func PrintSuccess(msg string) {
	if IsPlainMode() {
		fmt.Printf("[localgpt] OK: %s\n", msg)
		return
	}
	fmt.Printf("%s %s %s\n", Prefix(), StyleSuccess.Render(IconCheck), msg)
}

// PrintError prints a styled error line to stderr.
func PrintError(msg string) {
	if IsPlainMode() {
		fmt.Fprintf(os.Stderr, "[localgpt] ERROR: %s\n", msg)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", Prefix(), StyleError.Render(IconCross), msg)
}

// PrintWarning prints a styled warning line.
func PrintWarning(msg string) {
	if IsPlainMode() {
		fmt.Printf("[localgpt] WARNING: %s\n", msg)
		return
	}
	fmt.Printf("%s %s %s\n", Prefix(), StyleWarning.Render(IconWarning), msg)
}

// PrintInfo prints a neutral line.
func PrintInfo(msg string) {
	if IsPlainMode() {
		fmt.Printf("[localgpt] %s\n", msg)
		return
	}
	fmt.Printf("%s %s\n", Prefix(), msg)
}
