package snapshot

import (
	"context"
	"sort"

	"github.com/containerd/log"
	"github.com/samber/lo"

	"github.com/TunefulSu/ast/internal/volume"
)

// Info is one row of a snapshot listing.
type Info struct {
	ID          ID
	Parent      ID
	HasParent   bool
	Description string
	Deployed    bool
	Missing     []Kind
}

// List describes every snapshot in the store in ID order, combining the
// store enumeration, lineage, metadata sidecars, and the deployment state.
// A store with no deployed snapshot (fresh filesystem, default still the
// top-level subvolume) lists with no Deployed row rather than failing.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	subs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	parents := m.parents(subs)
	member := lo.SliceToMap(subs, func(sv volume.Subvolume) (string, struct{}) {
		return sv.Path, struct{}{}
	})

	deployed, err := m.DeployedID(ctx)
	hasDeployed := err == nil
	if err != nil {
		log.G(ctx).WithError(err).Debug("default subvolume is not a managed snapshot")
	}

	ids := make([]ID, 0, len(subs))
	for _, sv := range subs {
		if id, ok := m.layout.ParseRootfs(sv.Path); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		info := Info{ID: id, Deployed: hasDeployed && id == deployed}
		if parent, ok := parents[id]; ok {
			info.Parent = parent
			info.HasParent = true
		}
		for _, k := range Kinds {
			if _, ok := member[m.layout.MemberPath(k, id)]; !ok {
				info.Missing = append(info.Missing, k)
			}
		}
		meta, err := m.readMeta(id)
		if err != nil {
			log.G(ctx).WithError(err).WithField("id", id).Warn("unreadable snapshot metadata")
		} else {
			info.Description, _ = meta["desc"].(string)
		}
		out = append(out, info)
	}
	return out, nil
}
