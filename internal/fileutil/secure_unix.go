//go:build !windows

package fileutil

import (
	"fmt"
	"os"
)

// SecureWriteFile writes data to a file with owner-only permissions (0600).
// On Unix, the standard file mode bits are enforced by the kernel.
func SecureWriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

// SecureMkdirAll creates a directory tree with owner-only permissions (0700).
func SecureMkdirAll(path string) error {
	return os.MkdirAll(path, 0700)
}

// SecureAppendFile opens a file for appending, creating it with owner-only
// permissions (0600) if absent. Used for the audit log: O_APPEND gives each
// write single-write append semantics.
func SecureAppendFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

// CheckOwnerOnly verifies that the file at path is not readable or writable
// by group or other. Returns an error naming the offending mode bits.
func CheckOwnerOnly(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := fi.Mode().Perm() & 0077; mode != 0 {
		return fmt.Errorf("%s is accessible by other users (mode %04o)", path, fi.Mode().Perm())
	}
	return nil
}
