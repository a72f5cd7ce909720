package snapshot

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
)

// Walk returns a depth-first pre-order visitation of the subtree rooted at
// root: root first, then each child subtree in ascending-ID order. An
// explicit stack bounds memory on deep trees instead of recursion depth,
// and a seen-set guarantees every reachable ID appears exactly once even
// if the store's lineage metadata were ever to alias.
func (m *Manager) Walk(ctx context.Context, root ID) ([]ID, error) {
	index, err := m.lineageIndex(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := index[root]; !ok {
		return nil, fmt.Errorf("snapshot %d: %w", root, errdefs.ErrNotFound)
	}

	var (
		order []ID
		seen  = make(map[ID]bool)
		stack = []ID{root}
	)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		order = append(order, cur)

		// Push in reverse so the smallest child is popped, and therefore
		// visited, first.
		children := index[cur]
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return order, nil
}
