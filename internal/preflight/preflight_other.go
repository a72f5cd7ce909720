//go:build !linux

// Package preflight provides system requirement checks for ast.
package preflight

import "github.com/containerd/errdefs"

// Check runs all preflight checks.
// On non-Linux platforms, this returns ErrNotImplemented.
func Check() error {
	return errdefs.ErrNotImplemented
}

// CheckRoot verifies the process runs as root.
func CheckRoot() error {
	return errdefs.ErrNotImplemented
}

// CheckBtrfsSupport checks if the btrfs filesystem is available.
func CheckBtrfsSupport() error {
	return errdefs.ErrNotImplemented
}

// CheckBtrfsTool verifies the btrfs userspace tool is installed.
func CheckBtrfsTool() error {
	return errdefs.ErrNotImplemented
}
