//go:build windows

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ttulttul/localgpt/internal/types"
)

// RunSandboxed executes a shell command under a restricted primary token
// inside a Job Object that carries the resource limits. Windows has no
// argv[0] re-exec: the token is prepared in the parent and handed to
// CreateProcess, so no setup runs in the child at all.
func RunSandboxed(ctx context.Context, command string, policy *Policy) (Result, error) {
	cmd := exec.Command("cmd.exe", "/C", command)
	if fi, statErr := os.Stat(policy.WorkspacePath); statErr == nil && fi.IsDir() {
		cmd.Dir = policy.WorkspacePath
	}
	cmd.Env = scrubEnv(os.Environ())

	var restricted windows.Token
	if policy.Level > types.LevelNone && policy.Mode != types.ModeFullAccess {
		var err error
		restricted, err = createRestrictedToken()
		if err != nil {
			return Result{}, &SetupError{Stage: "restricted_token", Err: err}
		}
		defer restricted.Close()
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Token:         syscall.Token(restricted),
			CreationFlags: windows.CREATE_SUSPENDED,
		}
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_SUSPENDED}
	}

	stdout := newCapWriter(policy.MaxOutputBytes)
	stderr := newCapWriter(policy.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start sandboxed process: %w", err)
	}

	job, err := assignToJob(cmd.Process.Pid, policy)
	if err != nil {
		_ = cmd.Process.Kill()
		return Result{}, &SetupError{Stage: "job_object", Err: err}
	}
	defer windows.CloseHandle(job)

	if err := resumeProcess(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		return Result{}, &SetupError{Stage: "resume", Err: err}
	}

	timeout := time.Duration(policy.TimeoutSecs) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		_ = windows.TerminateJobObject(job, uint32(ExitTimeout))
		waitErr = <-waitCh
	case <-timer.C:
		timedOut = true
		_ = windows.TerminateJobObject(job, uint32(ExitTimeout))
		waitErr = <-waitCh
	}

	result := Result{
		Output:    combineOutput(stdout.String(), stderr.String()),
		ExitCode:  exitCodeOf(waitErr),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if timedOut {
		result.ExitCode = ExitTimeout
	}
	return result, nil
}

// createRestrictedToken derives a primary token from the current process
// with every privilege removed.
func createRestrictedToken() (windows.Token, error) {
	var base windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(),
		windows.TOKEN_DUPLICATE|windows.TOKEN_ASSIGN_PRIMARY|windows.TOKEN_QUERY, &base)
	if err != nil {
		return 0, fmt.Errorf("open process token: %w", err)
	}
	defer base.Close()

	var restricted windows.Token
	err = windows.CreateRestrictedToken(base, windows.DISABLE_MAX_PRIVILEGE,
		0, nil, 0, nil, 0, nil, &restricted)
	if err != nil {
		return 0, fmt.Errorf("create restricted token: %w", err)
	}
	return restricted, nil
}

// assignToJob puts the (still suspended) process into a Job Object that
// enforces the process-count cap and kills the whole tree when the last
// handle closes.
func assignToJob(pid int, policy *Policy) (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, fmt.Errorf("create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_ACTIVE_PROCESS |
				windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
			ActiveProcessLimit: policy.MaxProcesses,
		},
	}
	_, err = windows.SetInformationJobObject(job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info)))
	if err != nil {
		windows.CloseHandle(job)
		return 0, fmt.Errorf("set job limits: %w", err)
	}

	proc, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		windows.CloseHandle(job)
		return 0, fmt.Errorf("open process: %w", err)
	}
	defer windows.CloseHandle(proc)

	if err := windows.AssignProcessToJobObject(job, proc); err != nil {
		windows.CloseHandle(job)
		return 0, fmt.Errorf("assign to job: %w", err)
	}
	return job, nil
}

// resumeProcess resumes the main thread of a CREATE_SUSPENDED process.
func resumeProcess(pid int) error {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return fmt.Errorf("thread snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Thread32First(snapshot, &entry); err == nil; err = windows.Thread32Next(snapshot, &entry) {
		if entry.OwnerProcessID != uint32(pid) {
			continue
		}
		thread, openErr := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, entry.ThreadID)
		if openErr != nil {
			return fmt.Errorf("open thread: %w", openErr)
		}
		_, resumeErr := windows.ResumeThread(thread)
		windows.CloseHandle(thread)
		if resumeErr != nil {
			return fmt.Errorf("resume thread: %w", resumeErr)
		}
		return nil
	}
	return fmt.Errorf("main thread of pid %d not found", pid)
}

// exitCodeOf maps a Wait error to the process exit code.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
