package snapshot

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/containerd/errdefs"
)

func TestUsage(t *testing.T) {
	m, store := newTestManager(t)
	seedBundleDirs(t, m, store, BaseID)

	payload := bytes.Repeat([]byte("a"), 4096)
	if err := os.WriteFile(m.Layout().RootfsPath(BaseID)+"/blob", payload, 0o644); err != nil {
		t.Fatal(err)
	}

	u, err := m.Usage(context.Background(), BaseID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.Members[KindRootfs] < int64(len(payload)) {
		t.Errorf("rootfs usage = %d, want at least %d", u.Members[KindRootfs], len(payload))
	}
	// The sibling members exist only in the store, not on disk; they count
	// as zero rather than failing the walk.
	for _, k := range []Kind{KindVar, KindEtc, KindBoot} {
		if u.Members[k] != 0 {
			t.Errorf("member %s usage = %d, want 0 for an unmaterialized member", k, u.Members[k])
		}
	}
	if u.Total < int64(len(payload)) {
		t.Errorf("total = %d, want at least %d", u.Total, len(payload))
	}
}

func TestUsageMissingSnapshot(t *testing.T) {
	m, store := newTestManager(t)
	seedBundle(store, m.Layout(), BaseID)

	if _, err := m.Usage(context.Background(), 3); !errdefs.IsNotFound(err) {
		t.Fatalf("got %v, want not-found", err)
	}
}
