package sandbox

import (
	"strings"
	"testing"
)

func TestCapWriterUnderLimit(t *testing.T) {
	w := newCapWriter(100)
	w.Write([]byte("hello"))
	if w.String() != "hello" || w.Truncated() {
		t.Errorf("got %q truncated=%v", w.String(), w.Truncated())
	}
}

func TestCapWriterTruncates(t *testing.T) {
	w := newCapWriter(10)
	w.Write([]byte(strings.Repeat("x", 25)))
	out := w.String()
	if !strings.HasPrefix(out, strings.Repeat("x", 10)) {
		t.Errorf("kept bytes wrong: %q", out)
	}
	if !strings.Contains(out, "[Output truncated, 25 bytes total]") {
		t.Errorf("missing notice: %q", out)
	}
	if !w.Truncated() {
		t.Error("truncation flag unset")
	}
}

func TestCapWriterCountsAcrossWrites(t *testing.T) {
	w := newCapWriter(4)
	w.Write([]byte("ab"))
	w.Write([]byte("cd"))
	w.Write([]byte("ef"))
	if !strings.Contains(w.String(), "6 bytes total") {
		t.Errorf("total wrong: %q", w.String())
	}
	if got := w.String(); !strings.HasPrefix(got, "abcd") {
		t.Errorf("kept prefix wrong: %q", got)
	}
}

func TestCombineOutput(t *testing.T) {
	tests := []struct {
		name, stdout, stderr, want string
	}{
		{"stdout only", "out", "", "out"},
		{"stderr only", "", "err", "STDERR:\nerr"},
		{"both", "out", "err", "out\n\nSTDERR:\nerr"},
		{"neither", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := combineOutput(tt.stdout, tt.stderr); got != tt.want {
				t.Errorf("combineOutput = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultSetupFailed(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, false},
		{1, false},
		{ExitTimeout, false},
		{ExitSetupFailed, true},
		{ExitPolicyParse, true},
	}
	for _, tt := range tests {
		if got := (Result{ExitCode: tt.code}).SetupFailed(); got != tt.want {
			t.Errorf("SetupFailed(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestScrubEnvDropsSecrets(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"LOCALGPT_DB_KEY=supersecret",
		"OPENAI_API_KEY=sk-123",
		"HOME=/home/u",
	}
	got := scrubEnv(env)
	for _, kv := range got {
		if strings.Contains(kv, "supersecret") || strings.Contains(kv, "sk-123") {
			t.Errorf("secret leaked: %q", kv)
		}
	}
	if len(got) != 2 {
		t.Errorf("scrubbed env = %v", got)
	}
}

func TestDetectRuns(t *testing.T) {
	caps := Detect()
	if caps.Level > 3 {
		t.Errorf("impossible level %v", caps.Level)
	}
	if caps.Platform() == "" {
		t.Error("platform string empty")
	}
	if len(caps.StatusLines()) == 0 {
		t.Error("status lines empty")
	}
}

func TestEffectiveLevelClamps(t *testing.T) {
	caps := Detect()
	if got := caps.EffectiveLevel("none"); got != 0 {
		t.Errorf("none cap = %v", got)
	}
	if got := caps.EffectiveLevel("auto"); got != caps.Level {
		t.Errorf("auto = %v, want detected %v", got, caps.Level)
	}
}
