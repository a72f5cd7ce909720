package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/containerd/errdefs"

	"github.com/TunefulSu/ast/internal/pkgmgr"
)

func TestTreeRunVisitsWalkOrder(t *testing.T) {
	runner := &recordingRunner{}
	m, store := newTestManager(t, WithRunner(runner))
	seedBundle(store, m.Layout(), BaseID)

	a := mustClone(t, m, BaseID) // 1
	b := mustClone(t, m, BaseID) // 2
	c := mustClone(t, m, a)      // 3

	argv := []string{"pacman", "-Syu", "--noconfirm"}
	if err := m.TreeRun(context.Background(), BaseID, argv, false); err != nil {
		t.Fatalf("TreeRun: %v", err)
	}

	want := []ID{BaseID, a, c, b}
	if len(runner.runs) != len(want) {
		t.Fatalf("ran in %d snapshots, want %d", len(runner.runs), len(want))
	}
	for i, id := range want {
		if got := runner.runs[i].root; got != m.Layout().RootfsPath(id) {
			t.Errorf("run %d root = %s, want snapshot %d", i, got, id)
		}
		if !equalStrings(runner.runs[i].argv, argv) {
			t.Errorf("run %d argv = %v, want %v", i, runner.runs[i].argv, argv)
		}
	}
}

func TestTreeRunFailFastStops(t *testing.T) {
	runner := &recordingRunner{fail: map[string]error{}}
	m, store := newTestManager(t, WithRunner(runner))
	seedBundle(store, m.Layout(), BaseID)

	a := mustClone(t, m, BaseID) // 1
	_ = mustClone(t, m, BaseID)  // 2, must never run
	runner.fail[m.Layout().RootfsPath(a)] = fmt.Errorf("exit status 1")

	err := m.TreeRun(context.Background(), BaseID, []string{"true"}, true)
	if err == nil {
		t.Fatal("expected error")
	}
	var terr *TreeRunError
	if errors.As(err, &terr) {
		t.Fatalf("fail-fast abort must not aggregate, got %v", err)
	}
	if len(runner.runs) != 2 {
		t.Fatalf("ran in %d snapshots before aborting, want 2", len(runner.runs))
	}
}

func TestTreeRunContinuesAndAggregates(t *testing.T) {
	runner := &recordingRunner{fail: map[string]error{}}
	m, store := newTestManager(t, WithRunner(runner))
	seedBundle(store, m.Layout(), BaseID)

	a := mustClone(t, m, BaseID)
	b := mustClone(t, m, BaseID)
	runner.fail[m.Layout().RootfsPath(a)] = fmt.Errorf("exit status 1")
	runner.fail[m.Layout().RootfsPath(b)] = fmt.Errorf("exit status 127")

	err := m.TreeRun(context.Background(), BaseID, []string{"true"}, false)
	var terr *TreeRunError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want TreeRunError", err)
	}
	if !equalIDs(terr.Failed, []ID{a, b}) {
		t.Errorf("Failed = %v, want [%d %d]", terr.Failed, a, b)
	}
	if len(runner.runs) != 3 {
		t.Errorf("ran in %d snapshots, want all 3", len(runner.runs))
	}
}

func TestTreeRunRejectsEmptyCommand(t *testing.T) {
	m, store := newTestManager(t, WithRunner(&recordingRunner{}))
	seedBundle(store, m.Layout(), BaseID)

	if err := m.TreeRun(context.Background(), BaseID, nil, false); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("got %v, want invalid-argument", err)
	}
}

func TestRunSingleSnapshot(t *testing.T) {
	runner := &recordingRunner{}
	m, store := newTestManager(t, WithRunner(runner))
	seedBundle(store, m.Layout(), BaseID)
	a := mustClone(t, m, BaseID)

	if err := m.Run(context.Background(), a, []string{"ls", "/etc"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.runs) != 1 || runner.runs[0].root != m.Layout().RootfsPath(a) {
		t.Fatalf("runs = %+v, want one run in snapshot %d", runner.runs, a)
	}

	if err := m.Run(context.Background(), 99, []string{"ls"}); !errdefs.IsNotFound(err) {
		t.Errorf("Run in missing snapshot: got %v, want not-found", err)
	}
}

func TestPackagePassThroughs(t *testing.T) {
	runner := &recordingRunner{}
	m, store := newTestManager(t, WithRunner(runner))
	seedBundle(store, m.Layout(), BaseID)
	a := mustClone(t, m, BaseID)

	if err := m.Install(context.Background(), a, []string{"vim", "tmux"}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := m.Upgrade(context.Background(), a); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	if len(runner.runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runner.runs))
	}
	wantInstall := []string{"pacman", "-S", "--noconfirm", "vim", "tmux"}
	if !equalStrings(runner.runs[0].argv, wantInstall) {
		t.Errorf("install argv = %v, want %v", runner.runs[0].argv, wantInstall)
	}
	wantUpgrade := []string{"pacman", "-Syu", "--noconfirm"}
	if !equalStrings(runner.runs[1].argv, wantUpgrade) {
		t.Errorf("upgrade argv = %v, want %v", runner.runs[1].argv, wantUpgrade)
	}
	for i, run := range runner.runs {
		if run.root != m.Layout().RootfsPath(a) {
			t.Errorf("run %d root = %s, want snapshot %d rootfs", i, run.root, a)
		}
	}
}

func TestPackageCommandsBindConfiguredRunner(t *testing.T) {
	runner := &recordingRunner{}
	custom := pkgmgr.Commands{
		Install: []string{"apk", "add"},
		Remove:  []string{"apk", "del"},
		Upgrade: []string{"apk", "upgrade"},
	}
	// Command set configured before the runner; the runner must still win.
	m, store := newTestManager(t, WithPackageCommands(custom), WithRunner(runner))
	seedBundle(store, m.Layout(), BaseID)

	if err := m.Install(context.Background(), BaseID, []string{"vim"}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(runner.runs) != 1 {
		t.Fatalf("configured runner saw %d runs, want 1", len(runner.runs))
	}
	if want := []string{"apk", "add", "vim"}; !equalStrings(runner.runs[0].argv, want) {
		t.Errorf("install argv = %v, want %v", runner.runs[0].argv, want)
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
