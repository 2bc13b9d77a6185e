//go:build linux && arm64

package sandbox

import "golang.org/x/sys/unix"

// auditArch pins the BPF arch check to the compiled target.
const auditArch = unix.AUDIT_ARCH_AARCH64
