package tui

import "testing"

func TestSetPlainModeSticks(t *testing.T) {
	SetPlainMode(true)
	if !IsPlainMode() {
		t.Error("plain mode not set")
	}
	if Prefix() != "[localgpt]" {
		t.Errorf("plain prefix = %q", Prefix())
	}
	SetPlainMode(false)
	if IsPlainMode() {
		t.Error("plain mode not cleared")
	}
}
