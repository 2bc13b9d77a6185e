// Package gateway routes agent tool calls through the trust boundary:
// write guard first, then the command sandbox, with bounded output capture
// and timeout enforcement. Every execution is recorded to telemetry; every
// block lands in the audit chain.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ttulttul/localgpt/internal/audit"
	"github.com/ttulttul/localgpt/internal/config"
	"github.com/ttulttul/localgpt/internal/logger"
	"github.com/ttulttul/localgpt/internal/sandbox"
	"github.com/ttulttul/localgpt/internal/security"
	"github.com/ttulttul/localgpt/internal/telemetry"
	"github.com/ttulttul/localgpt/internal/types"
)

var log = logger.New("gateway")

// ToolClass routes a tool call to its enforcement path.
type ToolClass int

const (
	// ClassInternal tools never touch the filesystem or a shell; they
	// bypass the sandbox.
	ClassInternal ToolClass = iota
	// ClassFileReading tools read files; sandboxed, no guard consult.
	ClassFileReading
	// ClassFileMutating tools write files; guard consult + sandbox.
	ClassFileMutating
	// ClassShell tools run arbitrary commands; heuristic guard + sandbox.
	ClassShell
)

// Classify maps a tool name to its class. Unknown tools get the shell
// treatment - the most restrictive path.
func Classify(toolName string) ToolClass {
	switch toolName {
	case "memory_search", "memory_get", "think", "current_time":
		return ClassInternal
	case "read_file", "list_files":
		return ClassFileReading
	case "write_file", "edit_file", "append_file", "delete_file":
		return ClassFileMutating
	case "bash", "shell":
		return ClassShell
	default:
		return ClassShell
	}
}

// Call is one tool invocation from the model.
type Call struct {
	// Tool is the tool name as the model emitted it.
	Tool string
	// Path is the target for file tools.
	Path string
	// Command is the shell command for shell tools.
	Command string
}

// ToolResult is what flows back to the model.
type ToolResult struct {
	Output    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
}

// Runner executes a sandboxed command. Swappable in tests.
type Runner func(ctx context.Context, command string, policy *sandbox.Policy) (sandbox.Result, error)

// Gateway wires the guard, resolver, executor, audit chain, and telemetry
// together. Each call is independent; concurrency is bounded by the
// agent's outer turn gate.
type Gateway struct {
	cfg      *config.Config
	guard    *security.Guard
	auditLog *audit.Log
	caps     sandbox.Capabilities
	store    *telemetry.Storage
	runner   Runner
}

// New builds a gateway. store may be nil (telemetry disabled).
func New(cfg *config.Config, guard *security.Guard, auditLog *audit.Log, caps sandbox.Capabilities, store *telemetry.Storage) *Gateway {
	return &Gateway{
		cfg:      cfg,
		guard:    guard,
		auditLog: auditLog,
		caps:     caps,
		store:    store,
		runner:   sandbox.RunSandboxed,
	}
}

// Execute runs one tool call through the trust boundary.
//
// A *security.ProtectedPathError return means the write guard rejected the
// call; the audit entry is appended before the error is returned, and the
// message is visible to the model so it can adapt.
func (g *Gateway) Execute(ctx context.Context, call Call) (ToolResult, error) {
	class := Classify(call.Tool)
	if class == ClassInternal {
		return ToolResult{}, nil
	}

	source := "tool:" + call.Tool

	switch class {
	case ClassFileMutating:
		if err := g.guard.CheckWrite(call.Path); err != nil {
			var ppe *security.ProtectedPathError
			if errors.As(err, &ppe) {
				// write_blocked lands in the chain before the failure
				// reaches the agent.
				g.auditLog.AppendBestEffort(audit.ActionWriteBlocked, "", source, call.Path)
				return ToolResult{}, err
			}
			return ToolResult{}, err
		}
	case ClassShell:
		if hits := g.guard.CheckShellCommand(call.Command); len(hits) > 0 {
			g.auditLog.AppendBestEffort(audit.ActionWriteBlocked, "", source,
				strings.Join(hits, ","))
			return ToolResult{}, &security.ProtectedPathError{Name: hits[0]}
		}
	}

	level := g.caps.EffectiveLevel(g.cfg.Sandbox.Level)
	if level == types.LevelNone {
		// Disclosed, never hidden - and said once, not per command.
		log.WarnOnce("sandbox-none",
			"no sandbox mechanism available on this host; commands run with rlimits and timeout only")
	}

	policy := sandbox.Resolve(&g.cfg.Sandbox, g.cfg.Paths.Workspace, level)

	command := call.Command
	if class != ClassShell {
		command = fileToolCommand(call)
	}

	start := time.Now()
	res, err := g.runner(ctx, command, &policy)
	if err != nil {
		return ToolResult{}, err
	}
	if res.SetupFailed() {
		err = &sandbox.SetupError{Stage: "child", Err: errors.New(strings.TrimSpace(res.Output))}
	}

	g.record(call, command, res, time.Since(start))

	return ToolResult{
		Output:    res.Output,
		ExitCode:  res.ExitCode,
		TimedOut:  res.TimedOut,
		Truncated: res.Truncated,
	}, err
}

// fileToolCommand renders a file tool as the shell command the sandbox
// executes. The sandbox, not string hygiene, is the enforcement layer.
func fileToolCommand(call Call) string {
	switch call.Tool {
	case "read_file":
		return "cat -- " + shellQuote(call.Path)
	case "list_files":
		return "ls -la -- " + shellQuote(call.Path)
	case "delete_file":
		return "rm -- " + shellQuote(call.Path)
	default:
		return call.Command
	}
}

// shellQuote single-quotes a path for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// record writes the execution to telemetry. Best-effort: storage failure
// never affects the tool result.
func (g *Gateway) record(call Call, command string, res sandbox.Result, elapsed time.Duration) {
	if g.store == nil {
		return
	}
	rec := telemetry.ExecRecord{
		Tool:          call.Tool,
		CommandSHA256: security.ContentSHA256([]byte(command)),
		ExitCode:      res.ExitCode,
		DurationMS:    elapsed.Milliseconds(),
		BytesOut:      int64(len(res.Output)),
		Truncated:     res.Truncated,
		TimedOut:      res.TimedOut,
	}
	if err := g.store.LogExecution(rec); err != nil {
		log.Warn("telemetry write failed: %v", err)
	}
}
