package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/containerd/errdefs"
)

// fakeMounter records mount lifecycle events in order.
type fakeMounter struct {
	mounts    []string // targets, mount order
	unmounts  []string // targets, unmount order
	rslaves   []string
	failMount map[string]error
	failUmnt  map[string]error
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{
		failMount: make(map[string]error),
		failUmnt:  make(map[string]error),
	}
}

func (f *fakeMounter) Mount(m mount.Mount, target string) error {
	if err := f.failMount[target]; err != nil {
		return err
	}
	f.mounts = append(f.mounts, target)
	return nil
}

func (f *fakeMounter) Unmount(target string) error {
	f.unmounts = append(f.unmounts, target)
	return f.failUmnt[target]
}

func (f *fakeMounter) MakeRSlave(target string) error {
	f.rslaves = append(f.rslaves, target)
	f.mounts = append(f.mounts, target)
	return nil
}

func snapshotRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "snapshot-1")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestOpenMountsInOrder(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)

	s, err := Open(context.Background(), root, WithMounter(fm))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(context.Background())

	want := []string{root + "/var", root + "/etc", root + "/proc", root + "/dev", root + "/sys"}
	if len(fm.mounts) != len(want) {
		t.Fatalf("mounted %v, want %v", fm.mounts, want)
	}
	for i := range want {
		if fm.mounts[i] != want[i] {
			t.Errorf("mount[%d] = %s, want %s", i, fm.mounts[i], want[i])
		}
	}
	if len(fm.rslaves) != 1 || fm.rslaves[0] != root+"/sys" {
		t.Errorf("rslave targets = %v, want [%s]", fm.rslaves, root+"/sys")
	}
}

func TestCloseUnmountsInReverseOrder(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)

	s, err := Open(context.Background(), root, WithMounter(fm))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{root + "/sys", root + "/dev", root + "/proc", root + "/etc", root + "/var"}
	if len(fm.unmounts) != len(want) {
		t.Fatalf("unmounted %v, want %v", fm.unmounts, want)
	}
	for i := range want {
		if fm.unmounts[i] != want[i] {
			t.Errorf("unmount[%d] = %s, want %s", i, fm.unmounts[i], want[i])
		}
	}
}

func TestCloseRunsAfterCommandFailure(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)
	cmdErr := errors.New("command crashed")

	s, err := Open(context.Background(), root,
		WithMounter(fm),
		WithExecer(func(ctx context.Context, root string, argv []string) error {
			return cmdErr
		}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Run(context.Background(), []string{"false"}); !errors.Is(err, cmdErr) {
		t.Fatalf("Run error = %v, want %v", err, cmdErr)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(fm.unmounts) != len(fm.mounts) {
		t.Errorf("teardown left mounts behind: mounted %d, unmounted %d", len(fm.mounts), len(fm.unmounts))
	}
}

func TestCloseSweepsPastFailedUnmount(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)
	fm.failUmnt[root+"/proc"] = errors.New("target is busy")

	s, err := Open(context.Background(), root, WithMounter(fm))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(context.Background()); err == nil {
		t.Fatal("Close should report the failed unmount")
	}

	// All five targets must still have been attempted.
	if len(fm.unmounts) != 5 {
		t.Errorf("attempted %d unmounts, want 5 (sweep must not short-circuit)", len(fm.unmounts))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)

	s, err := Open(context.Background(), root, WithMounter(fm))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	attempts := len(fm.unmounts)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(fm.unmounts) != attempts {
		t.Error("second Close attempted unmounts again")
	}
}

func TestOpenSurvivesPartialBindFailure(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)
	fm.failMount[root+"/dev"] = errors.New("no such device")

	s, err := Open(context.Background(), root, WithMounter(fm))
	if err != nil {
		t.Fatalf("Open with failing bind: %v, session must stay open", err)
	}
	defer s.Close(context.Background())

	// The failed bind must not appear in the teardown set.
	for _, target := range s.teardown {
		if target == root+"/dev" {
			t.Error("failed bind was recorded for teardown")
		}
	}
}

func TestBareSessionMountsNothing(t *testing.T) {
	fm := newFakeMounter()
	root := snapshotRoot(t)

	s, err := Open(context.Background(), root, WithMounter(fm), Bare())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(context.Background())

	if len(fm.mounts) != 0 {
		t.Errorf("bare session performed mounts: %v", fm.mounts)
	}
}

func TestOpenMissingRoot(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "snapshot-404"), WithMounter(newFakeMounter()))
	if !errdefs.IsNotFound(err) {
		t.Fatalf("Open of missing root: err = %v, want NotFound", err)
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	s, err := Open(context.Background(), snapshotRoot(t), WithMounter(newFakeMounter()), Bare())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(context.Background())

	if err := s.Run(context.Background(), nil); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("Run(nil) err = %v, want InvalidArgument", err)
	}
}
