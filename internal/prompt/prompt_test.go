package prompt

import (
	"strings"
	"testing"

	"github.com/ttulttul/localgpt/internal/security"
)

func validVerification(content string) security.Verification {
	return security.Verification{State: security.StateValid, Content: content}
}

func TestSuffixIsLastContent(t *testing.T) {
	a := NewAssembler(validVerification("- Never run rm -rf /"))
	msgs := a.Messages("system prompt", []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})

	last := msgs[len(msgs)-1]
	if !strings.HasSuffix(last.Content, security.HardcodedSecuritySuffix) {
		t.Error("hardcoded suffix must end the final message")
	}
	if last.Role != RoleUser {
		t.Errorf("suffix role = %q, want user", last.Role)
	}
}

func TestPolicyPrecedesSuffixInFinalMessage(t *testing.T) {
	a := NewAssembler(validVerification("- Never run rm -rf /"))
	msgs := a.Messages("sys", nil)

	last := msgs[len(msgs)-1].Content
	policyPos := strings.Index(last, "Never run rm -rf /")
	suffixPos := strings.Index(last, security.HardcodedSecuritySuffix)
	if policyPos < 0 || suffixPos < 0 || policyPos >= suffixPos {
		t.Errorf("policy (%d) must precede suffix (%d)", policyPos, suffixPos)
	}
}

func TestNonValidStatesOmitPolicyHeading(t *testing.T) {
	states := []security.State{
		security.StateUnsigned,
		security.StateTamperDetected,
		security.StateMissing,
		security.StateManifestCorrupted,
		security.StateSuspiciousContent,
	}
	for _, state := range states {
		t.Run(state.String(), func(t *testing.T) {
			a := NewAssembler(security.Verification{State: state, Content: "leaked?"})
			msgs := a.Messages("sys", nil)

			all := ""
			for _, m := range msgs {
				all += m.Content + "\n"
			}
			if strings.Contains(all, "Workspace Security Policy") {
				t.Error("policy heading present for non-Valid state")
			}
			if !strings.Contains(all, security.HardcodedSecuritySuffix) {
				t.Error("hardcoded suffix missing")
			}
		})
	}
}

func TestTamperedContentAbsent(t *testing.T) {
	a := NewAssembler(security.Verification{
		State:   security.StateTamperDetected,
		Content: "", // verification never exposes tampered content
	})
	msgs := a.Messages("sys", []Message{{Role: RoleUser, Content: "hi"}})
	for _, m := range msgs {
		if strings.Contains(m.Content, "Tampered") {
			t.Error("tampered content leaked into context")
		}
	}
}

func TestSystemPromptFirst(t *testing.T) {
	a := NewAssembler(validVerification("p"))
	msgs := a.Messages("identity and safety", []Message{{Role: RoleUser, Content: "q"}})
	if msgs[0].Role != RoleSystem || msgs[0].Content != "identity and safety" {
		t.Errorf("first message = %+v", msgs[0])
	}
}

func TestHistoryNotMutated(t *testing.T) {
	a := NewAssembler(validVerification("p"))
	history := []Message{{Role: RoleUser, Content: "hello"}}
	a.Messages("sys", history)

	if len(history) != 1 || history[0].Content != "hello" {
		t.Error("history slice mutated by assembly")
	}
	// Two calls yield independent slices.
	m1 := a.Messages("sys", history)
	m2 := a.Messages("sys", history)
	if &m1[0] == &m2[0] {
		t.Error("message arrays must be freshly built each turn")
	}
}

func TestSuffixDisabledForDebugging(t *testing.T) {
	a := NewAssembler(validVerification(""))
	a.IncludeSuffix = false
	msgs := a.Messages("sys", nil)
	for _, m := range msgs {
		if strings.Contains(m.Content, security.HardcodedSecuritySuffix) {
			t.Error("suffix present although disabled")
		}
	}
}

func TestUsableTokens(t *testing.T) {
	tests := []struct {
		window, reserve, want int
	}{
		{128000, 8000, 128000 - 8000 - SecurityBlockReserve},
		{2000, 1000, 0}, // would go negative
		{SecurityBlockReserve, 0, 0},
	}
	for _, tt := range tests {
		if got := UsableTokens(tt.window, tt.reserve); got != tt.want {
			t.Errorf("UsableTokens(%d, %d) = %d, want %d", tt.window, tt.reserve, got, tt.want)
		}
	}
}
