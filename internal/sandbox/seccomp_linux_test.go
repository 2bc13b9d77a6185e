//go:build linux

package sandbox

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestNetworkDenyFilterShape(t *testing.T) {
	filter := buildNetworkDenyFilter()

	// 4 header instructions, one jump per syscall, allow, errno.
	want := 4 + len(networkDenySyscalls) + 2
	if len(filter) != want {
		t.Fatalf("filter length = %d, want %d", len(filter), want)
	}

	// Arch mismatch must kill.
	if filter[2].Code != unix.BPF_RET|unix.BPF_K || filter[2].K != seccompRetKillProcess {
		t.Errorf("instruction 2 must be RET KILL_PROCESS: %+v", filter[2])
	}

	// Second-to-last: allow. Last: EPERM errno.
	allow := filter[len(filter)-2]
	if allow.Code != unix.BPF_RET|unix.BPF_K || allow.K != seccompRetAllow {
		t.Errorf("fallthrough must allow: %+v", allow)
	}
	errno := filter[len(filter)-1]
	if errno.Code != unix.BPF_RET|unix.BPF_K || errno.K != seccompRetErrno|uint32(unix.EPERM) {
		t.Errorf("deny return must be ERRNO(EPERM): %+v", errno)
	}
}

func TestNetworkDenyJumpTargets(t *testing.T) {
	filter := buildNetworkDenyFilter()
	errnoIdx := len(filter) - 1

	for i := range networkDenySyscalls {
		idx := 4 + i
		ins := filter[idx]
		if ins.Code != unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K {
			t.Fatalf("instruction %d is not a JEQ: %+v", idx, ins)
		}
		// A match must land exactly on the errno return.
		if target := idx + 1 + int(ins.Jt); target != errnoIdx {
			t.Errorf("syscall %d match jumps to %d, want %d", ins.K, target, errnoIdx)
		}
		// A miss falls through to the next compare.
		if ins.Jf != 0 {
			t.Errorf("syscall %d miss offset = %d, want 0", ins.K, ins.Jf)
		}
	}
}

func TestNetworkDenyCoversSpecifiedSyscalls(t *testing.T) {
	required := []uint32{
		unix.SYS_SOCKET, unix.SYS_CONNECT, unix.SYS_ACCEPT, unix.SYS_ACCEPT4,
		unix.SYS_BIND, unix.SYS_LISTEN, unix.SYS_SENDTO, unix.SYS_SENDMSG,
		unix.SYS_SENDMMSG, unix.SYS_RECVFROM, unix.SYS_RECVMSG,
		unix.SYS_RECVMMSG, unix.SYS_PTRACE,
	}
	have := make(map[uint32]bool, len(networkDenySyscalls))
	for _, nr := range networkDenySyscalls {
		have[nr] = true
	}
	for _, nr := range required {
		if !have[nr] {
			t.Errorf("syscall %d missing from deny list", nr)
		}
	}
}

func TestDetectLandlockABINonDestructive(t *testing.T) {
	// Calling the probe twice must not change the answer or the process.
	a := detectLandlockABI()
	b := detectLandlockABI()
	if a != b {
		t.Errorf("probe unstable: %d then %d", a, b)
	}
	if a < 0 {
		t.Errorf("negative ABI %d", a)
	}
}

func TestAccessMasksGrowWithABI(t *testing.T) {
	h1, _, w1 := accessMasksForABI(1)
	h3, _, w3 := accessMasksForABI(3)
	h5, _, w5 := accessMasksForABI(5)

	if w1&accessFsTruncate != 0 {
		t.Error("v1 must not include truncate")
	}
	if w3&accessFsTruncate == 0 || w3&accessFsRefer == 0 {
		t.Error("v3 must include refer and truncate")
	}
	if w5&accessFsIoctlDev == 0 {
		t.Error("v5 must include ioctl_dev")
	}
	if !(h1 < h3 && h3 < h5) {
		t.Errorf("handled masks must grow: %x %x %x", h1, h3, h5)
	}
}
