package pkgmgr

import (
	"context"
	"reflect"
	"testing"

	"github.com/containerd/errdefs"
)

type recordingRunner struct {
	root string
	argv []string
}

func (r *recordingRunner) Run(ctx context.Context, root string, argv []string) error {
	r.root = root
	r.argv = argv
	return nil
}

func TestInstallBuildsCommand(t *testing.T) {
	rr := &recordingRunner{}
	m := New(rr, DefaultCommands())

	if err := m.Install(context.Background(), "/.snapshots/rootfs/snapshot-3", []string{"vim", "git"}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	want := []string{"pacman", "-S", "--noconfirm", "vim", "git"}
	if !reflect.DeepEqual(rr.argv, want) {
		t.Errorf("argv = %v, want %v", rr.argv, want)
	}
	if rr.root != "/.snapshots/rootfs/snapshot-3" {
		t.Errorf("root = %q", rr.root)
	}
}

func TestInstallRejectsEmptyPackageList(t *testing.T) {
	m := New(&recordingRunner{}, DefaultCommands())
	if err := m.Install(context.Background(), "/root", nil); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestFullUpgrade(t *testing.T) {
	rr := &recordingRunner{}
	m := New(rr, Commands{Upgrade: []string{"apt-get", "dist-upgrade", "-y"}})

	if err := m.FullUpgrade(context.Background(), "/r"); err != nil {
		t.Fatalf("FullUpgrade: %v", err)
	}
	want := []string{"apt-get", "dist-upgrade", "-y"}
	if !reflect.DeepEqual(rr.argv, want) {
		t.Errorf("argv = %v, want %v", rr.argv, want)
	}
}

func TestCommandPrefixNotMutated(t *testing.T) {
	rr := &recordingRunner{}
	cmds := DefaultCommands()
	m := New(rr, cmds)

	if err := m.Install(context.Background(), "/r", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(context.Background(), "/r", []string{"b"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"pacman", "-Rsn", "--noconfirm", "b"}
	if !reflect.DeepEqual(rr.argv, want) {
		t.Errorf("argv = %v, want %v (install must not leak into the shared prefix)", rr.argv, want)
	}
}
