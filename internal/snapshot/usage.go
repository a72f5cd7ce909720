package snapshot

import (
	"context"
	"os"
	"sync"

	"github.com/containerd/continuity/fs"
	"golang.org/x/sync/errgroup"
)

// Usage holds the apparent disk usage of one snapshot bundle, split by
// member. Members whose subvolume is missing count as zero.
type Usage struct {
	ID      ID
	Members map[Kind]int64
	Total   int64
}

// Usage walks all four members of a bundle in parallel and sums their
// apparent sizes. Shared extents are counted once per member walk, so the
// figure is an upper bound on exclusive space.
func (m *Manager) Usage(ctx context.Context, id ID) (Usage, error) {
	if err := m.ensureExists(ctx, id); err != nil {
		return Usage{}, err
	}

	u := Usage{ID: id, Members: make(map[Kind]int64, len(Kinds))}
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	for _, kind := range Kinds {
		eg.Go(func() error {
			path := m.layout.MemberPath(kind, id)
			if _, err := os.Lstat(path); os.IsNotExist(err) {
				return nil
			}
			du, err := fs.DiskUsage(ctx, path)
			if err != nil {
				return err
			}
			mu.Lock()
			u.Members[kind] += du.Size
			u.Total += du.Size
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// UsageAll reports usage for every snapshot in the store, in ID order.
func (m *Manager) UsageAll(ctx context.Context) ([]Usage, error) {
	ids, err := m.listIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Usage, 0, len(ids))
	for _, id := range ids {
		u, err := m.Usage(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
