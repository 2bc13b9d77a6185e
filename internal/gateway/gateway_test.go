package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ttulttul/localgpt/internal/audit"
	"github.com/ttulttul/localgpt/internal/config"
	"github.com/ttulttul/localgpt/internal/sandbox"
	"github.com/ttulttul/localgpt/internal/security"
	"github.com/ttulttul/localgpt/internal/types"
)

func newTestGateway(t *testing.T) (*Gateway, *audit.Log, string) {
	t.Helper()
	base := t.TempDir()
	workspace := filepath.Join(base, "workspace")
	stateDir := filepath.Join(base, "state")
	os.MkdirAll(workspace, 0755)
	os.MkdirAll(stateDir, 0700)

	cfg := config.DefaultConfig()
	cfg.Paths.Workspace = workspace
	cfg.Paths.StateDir = stateDir

	auditLog := audit.New(stateDir)
	guard := security.NewGuard(workspace, stateDir, &cfg.Security)
	g := New(cfg, guard, auditLog, sandbox.Capabilities{Level: types.LevelStandard}, nil)

	// Stub runner: no real fork in unit tests.
	g.runner = func(_ context.Context, command string, _ *sandbox.Policy) (sandbox.Result, error) {
		return sandbox.Result{Output: "ran: " + command, ExitCode: 0}, nil
	}
	return g, auditLog, workspace
}

func TestClassify(t *testing.T) {
	tests := []struct {
		tool string
		want ToolClass
	}{
		{"memory_search", ClassInternal},
		{"think", ClassInternal},
		{"read_file", ClassFileReading},
		{"write_file", ClassFileMutating},
		{"edit_file", ClassFileMutating},
		{"bash", ClassShell},
		{"totally_new_tool", ClassShell},
	}
	for _, tt := range tests {
		if got := Classify(tt.tool); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}

func TestProtectedWriteBlockedAndAudited(t *testing.T) {
	g, auditLog, workspace := newTestGateway(t)

	policyPath := filepath.Join(workspace, "LocalGPT.md")
	os.WriteFile(policyPath, []byte("# original"), 0644)

	_, err := g.Execute(context.Background(), Call{Tool: "write_file", Path: "LocalGPT.md"})

	var ppe *security.ProtectedPathError
	if !errors.As(err, &ppe) {
		t.Fatalf("err = %v, want ProtectedPathError", err)
	}
	if ppe.Name != "LocalGPT.md" {
		t.Errorf("error names %q", ppe.Name)
	}

	// File unchanged.
	data, _ := os.ReadFile(policyPath)
	if string(data) != "# original" {
		t.Error("protected file was modified")
	}

	// Exactly one write_blocked entry with the tool source.
	records, _ := auditLog.Read()
	if len(records) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(records))
	}
	e := records[0].Entry
	if e.Action != audit.ActionWriteBlocked || e.Source != "tool:write_file" {
		t.Errorf("entry = %+v", e)
	}
	if e.Detail != "LocalGPT.md" {
		t.Errorf("detail = %q, want attempted path", e.Detail)
	}
}

func TestShellHeuristicBlock(t *testing.T) {
	g, auditLog, _ := newTestGateway(t)

	_, err := g.Execute(context.Background(), Call{
		Tool:    "bash",
		Command: "echo pwned > LocalGPT.md",
	})
	var ppe *security.ProtectedPathError
	if !errors.As(err, &ppe) {
		t.Fatalf("err = %v, want ProtectedPathError", err)
	}

	records, _ := auditLog.Read()
	if len(records) != 1 || records[0].Entry.Source != "tool:bash" {
		t.Errorf("audit entries = %+v", records)
	}
}

func TestCleanShellRunsThroughSandbox(t *testing.T) {
	g, auditLog, _ := newTestGateway(t)

	var gotPolicy *sandbox.Policy
	g.runner = func(_ context.Context, command string, p *sandbox.Policy) (sandbox.Result, error) {
		gotPolicy = p
		return sandbox.Result{Output: "hi\n", ExitCode: 0}, nil
	}

	res, err := g.Execute(context.Background(), Call{Tool: "bash", Command: "echo hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hi\n" || res.ExitCode != 0 {
		t.Errorf("result = %+v", res)
	}
	if gotPolicy == nil {
		t.Fatal("runner never saw a policy")
	}
	if gotPolicy.Mode != types.ModeWorkspaceWrite {
		t.Errorf("policy mode = %q", gotPolicy.Mode)
	}
	if gotPolicy.Network.Mode != sandbox.NetworkDeny {
		t.Errorf("network = %q", gotPolicy.Network.Mode)
	}

	// Allowed calls add no audit entries.
	records, _ := auditLog.Read()
	if len(records) != 0 {
		t.Errorf("unexpected audit entries: %+v", records)
	}
}

func TestInternalToolBypassesSandbox(t *testing.T) {
	g, _, _ := newTestGateway(t)
	called := false
	g.runner = func(_ context.Context, _ string, _ *sandbox.Policy) (sandbox.Result, error) {
		called = true
		return sandbox.Result{}, nil
	}
	if _, err := g.Execute(context.Background(), Call{Tool: "memory_search"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called {
		t.Error("internal tool must bypass the sandbox")
	}
}

func TestSetupFailureSurfacesAsError(t *testing.T) {
	g, _, _ := newTestGateway(t)
	g.runner = func(_ context.Context, _ string, _ *sandbox.Policy) (sandbox.Result, error) {
		return sandbox.Result{ExitCode: sandbox.ExitSetupFailed, Output: "landlock: boom"}, nil
	}

	_, err := g.Execute(context.Background(), Call{Tool: "bash", Command: "true"})
	var se *sandbox.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SetupError", err)
	}
}

func TestTimeoutFlagPropagates(t *testing.T) {
	g, _, _ := newTestGateway(t)
	g.runner = func(_ context.Context, _ string, _ *sandbox.Policy) (sandbox.Result, error) {
		return sandbox.Result{ExitCode: sandbox.ExitTimeout, TimedOut: true, Output: "partial"}, nil
	}

	res, err := g.Execute(context.Background(), Call{Tool: "bash", Command: "sleep 999"})
	if err != nil {
		t.Fatalf("timeout is an outcome, not an error: %v", err)
	}
	if !res.TimedOut || res.ExitCode != sandbox.ExitTimeout {
		t.Errorf("result = %+v", res)
	}
	if res.Output != "partial" {
		t.Error("partial output must not be suppressed")
	}
}

func TestReadToolRendersCommand(t *testing.T) {
	g, _, _ := newTestGateway(t)
	var gotCommand string
	g.runner = func(_ context.Context, command string, _ *sandbox.Policy) (sandbox.Result, error) {
		gotCommand = command
		return sandbox.Result{ExitCode: 0}, nil
	}
	g.Execute(context.Background(), Call{Tool: "read_file", Path: "notes/it's.md"})
	if gotCommand != `cat -- 'notes/it'\''s.md'` {
		t.Errorf("command = %q", gotCommand)
	}
}
