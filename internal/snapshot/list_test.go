package snapshot

import (
	"context"
	"testing"
)

func TestList(t *testing.T) {
	m, store := newTestManager(t)
	seedBundleDirs(t, m, store, BaseID)

	a := mustClone(t, m, BaseID) // 1
	b := mustClone(t, m, a)      // 2

	// Simulate a partially created bundle: strip two members of b.
	ctx := context.Background()
	if err := store.Delete(ctx, m.Layout().MemberPath(KindEtc, b)); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, m.Layout().MemberPath(KindBoot, b)); err != nil {
		t.Fatal(err)
	}

	if err := store.SetDefault(ctx, m.Layout().RootfsPath(a)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDescription(ctx, BaseID, "base"); err != nil {
		t.Fatal(err)
	}

	infos, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("listed %d snapshots, want 3", len(infos))
	}

	base := infos[0]
	if base.ID != BaseID || base.HasParent {
		t.Errorf("base row = %+v, want ID 0 without a parent", base)
	}
	if base.Description != "base" {
		t.Errorf("base description = %q", base.Description)
	}
	if base.Deployed {
		t.Error("base reported deployed")
	}

	rowA := infos[1]
	if rowA.ID != a || !rowA.HasParent || rowA.Parent != BaseID {
		t.Errorf("row for %d = %+v, want parent 0", a, rowA)
	}
	if !rowA.Deployed {
		t.Errorf("snapshot %d should be the deployed row", a)
	}
	if len(rowA.Missing) != 0 {
		t.Errorf("snapshot %d missing = %v, want none", a, rowA.Missing)
	}

	rowB := infos[2]
	if rowB.ID != b || !rowB.HasParent || rowB.Parent != a {
		t.Errorf("row for %d = %+v, want parent %d", b, rowB, a)
	}
	if !equalKinds(rowB.Missing, []Kind{KindEtc, KindBoot}) {
		t.Errorf("snapshot %d missing = %v, want [etc boot]", b, rowB.Missing)
	}
}

func TestListWithoutDeployedSnapshot(t *testing.T) {
	m, store := newTestManager(t)
	seedBundle(store, m.Layout(), BaseID)

	infos, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List on an undeployed store: %v", err)
	}
	for _, info := range infos {
		if info.Deployed {
			t.Errorf("snapshot %d reported deployed with no default set", info.ID)
		}
	}
}
