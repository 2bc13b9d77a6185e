//go:build linux

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// seccomp return values (stable kernel ABI, <linux/seccomp.h>).
const (
	seccompRetErrno       = 0x00050000
	seccompRetAllow       = 0x7fff0000
	seccompRetKillProcess = 0x80000000
	seccompRetDataMask    = 0x0000ffff
)

// Offsets into struct seccomp_data.
const (
	seccompDataNr   = 0
	seccompDataArch = 4
)

// networkDenySyscalls are answered with EPERM. The list covers socket
// creation and every data-path syscall plus ptrace (which could otherwise
// puppeteer an unrestricted process).
var networkDenySyscalls = []uint32{
	unix.SYS_SOCKET,
	unix.SYS_CONNECT,
	unix.SYS_ACCEPT,
	unix.SYS_ACCEPT4,
	unix.SYS_BIND,
	unix.SYS_LISTEN,
	unix.SYS_SENDTO,
	unix.SYS_SENDMSG,
	unix.SYS_SENDMMSG,
	unix.SYS_RECVFROM,
	unix.SYS_RECVMSG,
	unix.SYS_RECVMMSG,
	unix.SYS_PTRACE,
}

// buildNetworkDenyFilter assembles the BPF program:
//
//	if arch != native        → kill process
//	if nr in deny list       → return EPERM
//	otherwise                → allow
func buildNetworkDenyFilter() []unix.SockFilter {
	filter := []unix.SockFilter{
		// Load arch, verify it matches the compiled target. A mismatch
		// means syscall numbers don't line up - kill rather than guess.
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataArch),
		bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, auditArch, 1, 0),
		bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetKillProcess),

		// Load the syscall number.
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataNr),
	}

	// One jump per denied syscall: match → EPERM return at the end.
	// Jump offsets are relative to the next instruction.
	n := len(networkDenySyscalls)
	for i, nr := range networkDenySyscalls {
		// Skip the remaining compares and the allow stmt to land on the
		// errno return.
		jt := uint8(n - i) //nolint:gosec // list is far below 255
		filter = append(filter, bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, nr, jt, 0))
	}

	filter = append(filter,
		bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetAllow),
		bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetErrno|(uint32(unix.EPERM)&seccompRetDataMask)),
	)
	return filter
}

// applySeccompNetworkDeny installs the filter. Must run after Landlock:
// the filter does not block the landlock syscalls, but keeping it last
// preserves the one defense order on every path. Requires NO_NEW_PRIVS.
func applySeccompNetworkDeny() error {
	filter := buildNetworkDenyFilter()
	prog := unix.SockFprog{
		Len:    uint16(len(filter)), //nolint:gosec // program is tiny
		Filter: &filter[0],
	}

	_, _, errno := unix.Syscall(
		unix.SYS_PRCTL,
		unix.PR_SET_SECCOMP,
		unix.SECCOMP_MODE_FILTER,
		uintptr(unsafe.Pointer(&prog)),
	)
	if errno != 0 {
		return fmt.Errorf("install seccomp filter: %w", errno)
	}
	return nil
}

func bpfStmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func bpfJump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}
