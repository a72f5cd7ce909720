package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// linuxMounter performs real mounts via the containerd mount helpers.
type linuxMounter struct{}

func defaultMounter() Mounter {
	return linuxMounter{}
}

func (linuxMounter) Mount(m mount.Mount, target string) error {
	// Mounting twice stacks mounts; a leftover bind from a crashed session
	// counts as already set up.
	if mounted, err := mountinfo.Mounted(target); err == nil && mounted {
		return nil
	}
	return m.Mount(target)
}

func (linuxMounter) Unmount(target string) error {
	return unmountAll(target)
}

func (linuxMounter) MakeRSlave(target string) error {
	if err := unix.Mount("", target, "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("make %s rslave: %w", target, err)
	}
	return nil
}

// unmountAll unmounts the target, falling back to a lazy unmount when the
// mount is busy. A path that is not mounted, or does not exist at all, is
// not an error: teardown lists are swept unconditionally and entries may
// already be gone.
func unmountAll(target string) error {
	if err := mount.UnmountAll(target, 0); err != nil {
		if isNotMountError(err) {
			return nil
		}
		if derr := mount.UnmountAll(target, unix.MNT_DETACH); derr != nil {
			if isNotMountError(derr) {
				return nil
			}
			return fmt.Errorf("unmount %s failed (lazy unmount also failed): %w", target, err)
		}
	}
	return nil
}

// isNotMountError reports whether err means "nothing was mounted there".
func isNotMountError(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOENT) || os.IsNotExist(err)
}

// chrootExec is the default Execer. The confined command is a child
// process with inherited stdio, not an exec-replacement of ast itself, so
// deferred session teardown always gets to run afterwards.
func chrootExec(ctx context.Context, root string, argv []string) error {
	if len(argv) == 0 {
		argv = []string{"/bin/bash"}
	}
	cmd := exec.CommandContext(ctx, "chroot", append([]string{root}, argv...)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
