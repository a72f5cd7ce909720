//go:build !linux

package session

import (
	"context"
	"fmt"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/containerd/errdefs"
)

type unsupportedMounter struct{}

func defaultMounter() Mounter {
	return unsupportedMounter{}
}

func (unsupportedMounter) Mount(m mount.Mount, target string) error {
	return fmt.Errorf("bind mounts: %w", errdefs.ErrNotImplemented)
}

func (unsupportedMounter) Unmount(target string) error {
	return nil
}

func (unsupportedMounter) MakeRSlave(target string) error {
	return fmt.Errorf("mount propagation: %w", errdefs.ErrNotImplemented)
}

func chrootExec(ctx context.Context, root string, argv []string) error {
	return fmt.Errorf("confined execution: %w", errdefs.ErrNotImplemented)
}
