package snapshot

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// TreeRun executes argv inside every snapshot of the subtree rooted at
// root, in walk order. Sessions are opened one at a time, outside the
// exclusive lock: tree-run only reads the snapshots it executes against.
// Running a collection pass concurrently with a long tree-run can delete a
// snapshot mid-run; operators are expected not to do that.
//
// With failFast set, the run aborts at the first failing snapshot and
// later IDs are never invoked. Without it, failures are logged per
// snapshot and the run continues, so one broken snapshot does not block
// the rest of the tree. Either way the aggregate result is an error iff at
// least one visited snapshot failed.
func (m *Manager) TreeRun(ctx context.Context, root ID, argv []string, failFast bool) error {
	if len(argv) == 0 {
		return fmt.Errorf("tree-run requires a command: %w", errdefs.ErrInvalidArgument)
	}
	ids, err := m.Walk(ctx, root)
	if err != nil {
		return err
	}

	var (
		failed []ID
		first  error
	)
	for _, id := range ids {
		log.G(ctx).WithField("id", id).Info("tree-run: executing in snapshot")
		err := m.runner.Run(ctx, m.layout.RootfsPath(id), argv)
		if err == nil {
			continue
		}
		if failFast {
			return fmt.Errorf("tree-run aborted at snapshot %d: %w", id, err)
		}
		log.G(ctx).WithError(err).WithField("id", id).Warn("tree-run: command failed, continuing")
		failed = append(failed, id)
		if first == nil {
			first = err
		}
	}
	if len(failed) > 0 {
		return &TreeRunError{Failed: failed, First: first}
	}
	return nil
}

// Run executes argv inside a single snapshot, the non-recursive sibling of
// TreeRun.
func (m *Manager) Run(ctx context.Context, id ID, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("run requires a command: %w", errdefs.ErrInvalidArgument)
	}
	if err := m.ensureExists(ctx, id); err != nil {
		return err
	}
	return m.runner.Run(ctx, m.layout.RootfsPath(id), argv)
}

// Install installs packages into a snapshot via the guest package manager.
func (m *Manager) Install(ctx context.Context, id ID, pkgs []string) error {
	if err := m.ensureExists(ctx, id); err != nil {
		return err
	}
	return m.pkg.Install(ctx, m.layout.RootfsPath(id), pkgs)
}

// Remove removes packages from a snapshot via the guest package manager.
func (m *Manager) Remove(ctx context.Context, id ID, pkgs []string) error {
	if err := m.ensureExists(ctx, id); err != nil {
		return err
	}
	return m.pkg.Remove(ctx, m.layout.RootfsPath(id), pkgs)
}

// Upgrade runs a full package upgrade inside a snapshot.
func (m *Manager) Upgrade(ctx context.Context, id ID) error {
	if err := m.ensureExists(ctx, id); err != nil {
		return err
	}
	return m.pkg.FullUpgrade(ctx, m.layout.RootfsPath(id))
}
