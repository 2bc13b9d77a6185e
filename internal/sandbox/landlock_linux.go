//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ttulttul/localgpt/internal/types"
)

// Landlock syscall numbers (amd64 / arm64, stable ABI).
const (
	sysLandlockCreateRuleset = 444
	sysLandlockAddRule       = 445
	sysLandlockRestrictSelf  = 446
)

const (
	landlockCreateRulesetVersion = 1 << 0
	rulePathBeneath              = 1
)

// Filesystem access flags from <linux/landlock.h>.
const (
	accessFsExecute    = 1 << 0
	accessFsWriteFile  = 1 << 1
	accessFsReadFile   = 1 << 2
	accessFsReadDir    = 1 << 3
	accessFsRemoveDir  = 1 << 4
	accessFsRemoveFile = 1 << 5
	accessFsMakeChar   = 1 << 6
	accessFsMakeDir    = 1 << 7
	accessFsMakeReg    = 1 << 8
	accessFsMakeSock   = 1 << 9
	accessFsMakeFifo   = 1 << 10
	accessFsMakeBlock  = 1 << 11
	accessFsMakeSym    = 1 << 12
	accessFsRefer      = 1 << 13 // ABI v2 (kernel 5.19+)
	accessFsTruncate   = 1 << 14 // ABI v3 (kernel 6.2+)
	accessFsIoctlDev   = 1 << 15 // ABI v5 (kernel 6.10+)
)

const (
	accessRead = accessFsExecute | accessFsReadFile | accessFsReadDir

	accessWriteV1 = accessFsWriteFile | accessFsRemoveDir | accessFsRemoveFile |
		accessFsMakeChar | accessFsMakeDir | accessFsMakeReg |
		accessFsMakeSock | accessFsMakeFifo | accessFsMakeBlock | accessFsMakeSym
)

// landlock_ruleset_attr for create_ruleset.
type rulesetAttr struct {
	handledAccessFs uint64
}

// landlock_path_beneath_attr for add_rule.
type pathBeneathAttr struct {
	allowedAccess uint64
	parentFd      int32
	_             int32 // alignment matches the kernel struct
}

// detectLandlockABI returns the kernel's Landlock ABI version, 0 if the
// LSM is absent. Non-destructive: nothing is restricted.
func detectLandlockABI() int {
	ret, _, errno := unix.Syscall(
		sysLandlockCreateRuleset,
		0, // attr = NULL
		0, // size = 0
		landlockCreateRulesetVersion,
	)
	if errno != 0 {
		return 0
	}
	return int(ret)
}

// accessMasksForABI returns the handled/read/write masks available on the
// given ABI. Newer access rights are requested best-effort: handling a
// right the kernel doesn't know fails, so the masks grow with the ABI.
func accessMasksForABI(abi int) (handled, read, write uint64) {
	write = accessWriteV1
	if abi >= 2 {
		write |= accessFsRefer
	}
	if abi >= 3 {
		write |= accessFsTruncate
	}
	if abi >= 5 {
		write |= accessFsIoctlDev
	}
	read = accessRead
	handled = read | write
	return handled, read, write
}

// applyLandlock installs the filesystem ruleset for the policy and
// restricts the calling process. Deny paths are enforced by omission:
// once a ruleset handles an access type, any path without a rule is
// denied.
//
// Caller must have set NO_NEW_PRIVS. Runs before the seccomp filter is
// installed, keeping the fixed defense order.
func applyLandlock(policy *Policy) error {
	abi := detectLandlockABI()
	if abi < 1 {
		return fmt.Errorf("landlock unavailable (kernel 5.13+ with CONFIG_SECURITY_LANDLOCK required)")
	}
	handled, readAccess, writeAccess := accessMasksForABI(abi)

	attr := rulesetAttr{handledAccessFs: handled}
	fd, _, errno := unix.Syscall(
		sysLandlockCreateRuleset,
		uintptr(unsafe.Pointer(&attr)),
		unsafe.Sizeof(attr),
		0,
	)
	if errno != 0 {
		return fmt.Errorf("landlock create_ruleset: %w", errno)
	}
	rulesetFd := int(fd)
	defer unix.Close(rulesetFd)

	// Read-only paths: system dirs and user-approved read paths.
	for _, path := range policy.ReadOnlyPaths {
		if err := addPathRule(rulesetFd, path, readAccess); err != nil {
			return fmt.Errorf("landlock read rule %q: %w", path, err)
		}
	}

	// Writable paths: workspace, /tmp, scratch, user-approved writes.
	// Read-only mode carries no writable paths at all.
	if policy.Mode != types.ModeReadOnly {
		if err := addPathRule(rulesetFd, policy.WorkspacePath, readAccess|writeAccess); err != nil {
			return fmt.Errorf("landlock workspace rule %q: %w", policy.WorkspacePath, err)
		}
	}
	for _, path := range policy.ExtraWritePaths {
		if err := addPathRule(rulesetFd, path, readAccess|writeAccess); err != nil {
			return fmt.Errorf("landlock write rule %q: %w", path, err)
		}
	}

	_, _, errno = unix.Syscall(sysLandlockRestrictSelf, uintptr(rulesetFd), 0, 0)
	if errno != 0 {
		return fmt.Errorf("landlock restrict_self: %w", errno)
	}
	return nil
}

// addPathRule opens the path - filesystem rules require an open handle
// before restrictions apply - and adds a path-beneath rule. Paths that do
// not exist are skipped: there is nothing to grant.
func addPathRule(rulesetFd int, path string, access uint64) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	attr := pathBeneathAttr{
		allowedAccess: access,
		parentFd:      int32(f.Fd()),
	}
	_, _, errno := unix.Syscall6(
		sysLandlockAddRule,
		uintptr(rulesetFd),
		rulePathBeneath,
		uintptr(unsafe.Pointer(&attr)),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
