package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CheckResult is one smoke-test outcome for `sandbox test`.
type CheckResult struct {
	Name    string
	Passed  bool
	Skipped bool
	Detail  string
}

// SelfTest exercises the live sandbox against the given policy: allowed
// writes succeed, denied reads and network fail, the timeout kills, and
// restrictions inherit into child processes. The parent is untouched.
func SelfTest(ctx context.Context, policy *Policy) []CheckResult {
	var results []CheckResult
	add := func(name string, passed, skipped bool, detail string) {
		results = append(results, CheckResult{Name: name, Passed: passed, Skipped: skipped, Detail: detail})
	}

	run := func(command string, timeoutSecs uint64) (Result, error) {
		p := *policy
		if timeoutSecs > 0 {
			p.TimeoutSecs = timeoutSecs
		}
		return RunSandboxed(ctx, command, &p)
	}

	// Write inside the workspace: expect allow.
	probe := fmt.Sprintf("%s/.localgpt-sandbox-probe", policy.WorkspacePath)
	res, err := run(fmt.Sprintf("echo ok > %q && rm -f %q", probe, probe), 10)
	add("write inside workspace", err == nil && res.ExitCode == 0, false, res.Output)

	// Write outside every granted path: expect deny.
	res, err = run("touch /localgpt-sandbox-deny-probe 2>&1", 10)
	add("write outside workspace denied", err == nil && res.ExitCode != 0, false, res.Output)

	// Read a credential path: expect deny (skip when ~/.ssh/id_rsa is absent).
	res, err = run("cat ~/.ssh/id_rsa 2>&1", 10)
	switch {
	case err == nil && res.ExitCode != 0 && strings.Contains(res.Output, "No such file"):
		add("credential read denied", true, true, "no ~/.ssh/id_rsa to probe")
	default:
		add("credential read denied", err == nil && res.ExitCode != 0, false, res.Output)
	}

	// Network connect: expect deny. curl missing counts as a skip.
	res, err = run("curl -s --connect-timeout 3 http://example.com 2>&1", 15)
	switch {
	case err == nil && strings.Contains(res.Output, "not found"):
		add("network denied", true, true, "curl not installed")
	default:
		add("network denied", err == nil && res.ExitCode != 0, false, res.Output)
	}

	// Sleep beyond the timeout: expect the kill path.
	start := time.Now()
	res, err = run("sleep 30", 2)
	elapsed := time.Since(start)
	add("timeout kills command",
		err == nil && res.TimedOut && res.ExitCode == ExitTimeout && elapsed < 10*time.Second,
		false, fmt.Sprintf("elapsed %.1fs", elapsed.Seconds()))

	// Child process inherits restrictions: a subshell write outside the
	// grants must fail too.
	res, err = run("bash -c 'touch /localgpt-sandbox-child-probe' 2>&1", 10)
	add("child process inherits sandbox", err == nil && res.ExitCode != 0, false, res.Output)

	return results
}
