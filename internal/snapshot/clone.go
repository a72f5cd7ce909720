package snapshot

import (
	"context"
	"fmt"

	"github.com/containerd/log"
)

// Clone creates a new bundle from src under a freshly allocated ID. The
// allocation and the four member clones form one critical section: the
// exclusive lock is held from before the ID is chosen until the last
// member is cloned.
//
// Member clones fail closed if their destination exists. When a member
// clone fails after earlier members succeeded, the created members are
// left in place and a PartialBundleError names exactly which members exist;
// Repair can later fill in the rest.
func (m *Manager) Clone(ctx context.Context, src ID) (ID, error) {
	unlock, err := m.lock.Lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	return m.cloneLocked(ctx, src)
}

// Branch creates a new branch off parent. Structurally this is Clone;
// the separate verb exists for workflow clarity in the CLI.
func (m *Manager) Branch(ctx context.Context, parent ID) (ID, error) {
	return m.Clone(ctx, parent)
}

func (m *Manager) cloneLocked(ctx context.Context, src ID) (ID, error) {
	if err := m.ensureExists(ctx, src); err != nil {
		return 0, err
	}
	dst, err := m.nextID(ctx)
	if err != nil {
		return 0, err
	}

	for i, k := range Kinds {
		err := m.store.Clone(ctx, m.layout.MemberPath(k, src), m.layout.MemberPath(k, dst))
		if err == nil {
			continue
		}
		if i == 0 {
			// Nothing was created; propagate the member failure as-is.
			return 0, fmt.Errorf("clone %s of snapshot %d: %w", k, src, err)
		}
		return 0, &PartialBundleError{
			ID:      dst,
			Present: Kinds[:i],
			Missing: Kinds[i:],
			Cause:   fmt.Errorf("clone %s of snapshot %d: %w", k, src, err),
		}
	}

	log.G(ctx).WithField("src", src).WithField("dst", dst).Info("cloned snapshot")
	return dst, nil
}

// Repair fills in the missing members of a partially created bundle by
// cloning them from src. Present members are left untouched, which makes
// the pass idempotent: repairing a complete bundle is a no-op.
func (m *Manager) Repair(ctx context.Context, src, dst ID) error {
	unlock, err := m.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.ensureExists(ctx, src); err != nil {
		return err
	}
	_, missing, err := m.bundleState(ctx, dst)
	if err != nil {
		return err
	}
	for _, k := range missing {
		if err := m.store.Clone(ctx, m.layout.MemberPath(k, src), m.layout.MemberPath(k, dst)); err != nil {
			return fmt.Errorf("repair %s of snapshot %d: %w", k, dst, err)
		}
		log.G(ctx).WithField("id", dst).WithField("member", k).Info("repaired bundle member")
	}
	return nil
}

// CloneTree clones the whole subtree rooted at root, depth-first. The
// entire walk runs inside one lock acquisition, so no other mutator can
// interleave; a large tree therefore blocks other mutators for the whole
// clone, a deliberate simplicity-over-availability trade.
//
// The child sets of the original tree are captured once before any clone
// is made. Clones appear in the store as new children of their sources,
// so re-querying lineage mid-walk would make the walk chase its own
// output.
func (m *Manager) CloneTree(ctx context.Context, root ID) (ID, error) {
	unlock, err := m.lock.Lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := m.ensureExists(ctx, root); err != nil {
		return 0, err
	}
	index, err := m.lineageIndex(ctx)
	if err != nil {
		return 0, err
	}
	newRoot, err := m.cloneSubtree(ctx, root, index)
	if err != nil {
		return 0, err
	}
	log.G(ctx).WithField("root", root).WithField("newRoot", newRoot).Info("cloned snapshot tree")
	return newRoot, nil
}

func (m *Manager) cloneSubtree(ctx context.Context, id ID, index map[ID][]ID) (ID, error) {
	newID, err := m.cloneLocked(ctx, id)
	if err != nil {
		return 0, err
	}
	for _, child := range index[id] {
		if _, err := m.cloneSubtree(ctx, child, index); err != nil {
			return 0, fmt.Errorf("clone subtree at snapshot %d: %w", child, err)
		}
	}
	return newID, nil
}
