package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/TunefulSu/ast/internal/volume"
)

// Children returns the direct children of id, derived from the volume
// store's lineage metadata: B is a child of A when B's rootfs member was
// cloned from A's rootfs member. Nothing is persisted, so the relation can
// never drift from what the store actually holds. O(N) over live bundles.
func (m *Manager) Children(ctx context.Context, id ID) ([]ID, error) {
	subs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	self, ok := m.findRootfs(subs, id)
	if !ok {
		return nil, fmt.Errorf("snapshot %d: %w", id, errdefs.ErrNotFound)
	}
	return m.childrenOf(subs, self.UUID), nil
}

// lineageIndex maps each snapshot to its direct children, computed from a
// single store enumeration. CloneTree and Walk capture one index up front
// so the set of nodes to process is fixed at call time; clones created
// mid-operation can therefore never be revisited.
func (m *Manager) lineageIndex(ctx context.Context) (map[ID][]ID, error) {
	subs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[ID][]ID)
	for _, sv := range subs {
		if id, ok := m.layout.ParseRootfs(sv.Path); ok {
			index[id] = m.childrenOf(subs, sv.UUID)
		}
	}
	return index, nil
}

// findRootfs locates id's rootfs member in an enumeration.
func (m *Manager) findRootfs(subs []volume.Subvolume, id ID) (volume.Subvolume, bool) {
	want := m.layout.RootfsPath(id)
	for _, sv := range subs {
		if sv.Path == want {
			return sv, true
		}
	}
	return volume.Subvolume{}, false
}

// childrenOf collects the IDs of rootfs members whose lineage parent is
// the given UUID. Members that do not parse as snapshot paths are skipped,
// not errors: the store may hold unrelated subvolumes.
func (m *Manager) childrenOf(subs []volume.Subvolume, parent uuid.UUID) []ID {
	var children []ID
	for _, sv := range subs {
		if sv.ParentUUID != parent {
			continue
		}
		if id, ok := m.layout.ParseRootfs(sv.Path); ok {
			children = append(children, id)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	return children
}

// parents maps every snapshot to its lineage parent. Roots (the base, or
// snapshots whose parent was collected) are absent from the map.
func (m *Manager) parents(subs []volume.Subvolume) map[ID]ID {
	byUUID := make(map[uuid.UUID]ID)
	for _, sv := range subs {
		if id, ok := m.layout.ParseRootfs(sv.Path); ok {
			byUUID[sv.UUID] = id
		}
	}
	out := make(map[ID]ID)
	for _, sv := range subs {
		id, ok := m.layout.ParseRootfs(sv.Path)
		if !ok || sv.ParentUUID == uuid.Nil {
			continue
		}
		if parent, ok := byUUID[sv.ParentUUID]; ok {
			out[id] = parent
		}
	}
	return out
}
