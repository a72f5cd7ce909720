package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/samber/lo"
)

// DeployedID returns the ID whose rootfs member is the current default
// boot target. The value is read from the volume store on every call and
// never cached; promotion by another process must be visible immediately.
func (m *Manager) DeployedID(ctx context.Context) (ID, error) {
	path, err := m.store.GetDefault(ctx)
	if err != nil {
		return 0, fmt.Errorf("read default subvolume: %w", err)
	}
	id, ok := m.layout.ParseRootfs(path)
	if !ok {
		return 0, fmt.Errorf("default subvolume %s is not a managed snapshot", path)
	}
	return id, nil
}

// keepSet computes the IDs exempt from a collection pass: the numeric
// window deployed±radius, the deployed ID itself, and the base. The window
// is purely numeric: an ID inside it survives whether or not it is related
// to the deployed snapshot. That approximates "recent snapshots" by
// allocation proximity and is kept as-is.
func (m *Manager) keepSet(deployed ID) map[ID]struct{} {
	window := lo.RangeFrom(int(deployed)-m.keepRadius, 2*m.keepRadius+1)
	keep := lo.SliceToMap(window, func(n int) (ID, struct{}) {
		return ID(n), struct{}{}
	})
	keep[deployed] = struct{}{}
	keep[BaseID] = struct{}{}
	return keep
}

// Collect deletes every bundle outside the retention window. The whole
// pass holds the exclusive lock so no clone can race the deletion of its
// source. Member deletes fan out best-effort: a member that is already
// gone, or that the store refuses to delete, is logged and skipped without
// aborting the rest of the bundle or the pass. Approximate cleanup is the
// point of GC, not strict transactionality.
func (m *Manager) Collect(ctx context.Context) error {
	unlock, err := m.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	deployed, err := m.DeployedID(ctx)
	if err != nil {
		return err
	}
	ids, err := m.listIDs(ctx)
	if err != nil {
		return err
	}

	keep := m.keepSet(deployed)
	var collected int
	for _, id := range ids {
		if id == BaseID {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		for _, k := range Kinds {
			path := m.layout.MemberPath(k, id)
			if err := m.store.Delete(ctx, path); err != nil {
				log.G(ctx).WithError(err).WithField("path", path).Warn("gc: failed to delete bundle member")
			}
		}
		log.G(ctx).WithField("id", id).Info("gc: collected snapshot")
		collected++
	}
	log.G(ctx).WithField("collected", collected).WithField("deployed", deployed).Info("gc pass complete")
	return nil
}

// CleanTmp removes ast's scratch directories under /tmp. Best-effort:
// individual removal failures are logged and do not stop the sweep.
func (m *Manager) CleanTmp(ctx context.Context) error {
	matches, err := filepath.Glob("/tmp/ast-*")
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.RemoveAll(path); err != nil {
			log.G(ctx).WithError(err).WithField("path", path).Warn("failed to remove scratch directory")
		}
	}
	return nil
}
