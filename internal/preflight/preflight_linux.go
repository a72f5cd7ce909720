// Package preflight provides system requirement checks for ast.
package preflight

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
)

// Check runs all preflight checks and returns an error if any fail.
// This should be called early in main() to fail fast.
func Check() error {
	if err := CheckRoot(); err != nil {
		return err
	}
	if err := CheckBtrfsSupport(); err != nil {
		return err
	}
	return CheckBtrfsTool()
}

// CheckRoot verifies the process runs as root. Subvolume manipulation,
// set-default and chroot sessions all need it.
func CheckRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("ast must run as root (euid %d)", os.Geteuid())
	}
	return nil
}

// CheckBtrfsSupport checks if the btrfs filesystem is available.
func CheckBtrfsSupport() error {
	if !isBtrfsRegistered() {
		return fmt.Errorf("btrfs filesystem not available, please run: modprobe btrfs")
	}
	return nil
}

// isBtrfsRegistered checks if btrfs is registered in /proc/filesystems.
func isBtrfsRegistered() bool {
	data, err := os.ReadFile("/proc/filesystems")
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte("\tbtrfs\n"))
}

// CheckBtrfsTool verifies the btrfs userspace tool is installed.
func CheckBtrfsTool() error {
	if _, err := exec.LookPath("btrfs"); err != nil {
		return fmt.Errorf("btrfs tool not found, please install btrfs-progs: %w", err)
	}
	return nil
}
