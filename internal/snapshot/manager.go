package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/containerd/errdefs"
	"github.com/samber/lo"

	"github.com/TunefulSu/ast/internal/lockfile"
	"github.com/TunefulSu/ast/internal/pkgmgr"
	"github.com/TunefulSu/ast/internal/session"
	"github.com/TunefulSu/ast/internal/volume"
)

// defaultKeepRadius is the GC retention window half-width: IDs within
// deployed±radius survive a collection pass.
const defaultKeepRadius = 2

// Manager orchestrates the snapshot tree. Every tree-mutating operation
// (Clone, CloneTree, Repair, Promote, BaseUpdate, Collect) serializes on
// one process-wide exclusive lock; read and execute operations (Walk,
// TreeRun, sessions) run outside it.
type Manager struct {
	store      volume.Store
	layout     Layout
	lock       *lockfile.Mutex
	runner     session.Runner
	bootloader Bootloader
	pkg        *pkgmgr.Manager
	pkgCmds    pkgmgr.Commands
	keepRadius int
	liveRoot   string
}

// Opt configures a Manager.
type Opt func(*Manager)

// WithLock replaces the exclusive lock path.
func WithLock(m *lockfile.Mutex) Opt {
	return func(mgr *Manager) {
		mgr.lock = m
	}
}

// WithRunner replaces the confined command runner used by tree-run and the
// package pass-throughs.
func WithRunner(r session.Runner) Opt {
	return func(mgr *Manager) {
		mgr.runner = r
	}
}

// WithBootloader replaces the bootloader configuration generator invoked
// after promotion.
func WithBootloader(b Bootloader) Opt {
	return func(mgr *Manager) {
		mgr.bootloader = b
	}
}

// WithPackageCommands replaces the guest package manager command set.
func WithPackageCommands(cmds pkgmgr.Commands) Opt {
	return func(mgr *Manager) {
		mgr.pkgCmds = cmds
	}
}

// WithKeepRadius sets the GC retention window half-width.
func WithKeepRadius(radius int) Opt {
	return func(mgr *Manager) {
		mgr.keepRadius = radius
	}
}

// WithLiveRoot overrides the path of the running system's root, the
// source of base-update re-snapshots.
func WithLiveRoot(root string) Opt {
	return func(mgr *Manager) {
		mgr.liveRoot = root
	}
}

// NewManager returns a Manager operating on the given store and layout.
func NewManager(store volume.Store, layout Layout, opts ...Opt) *Manager {
	m := &Manager{
		store:      store,
		layout:     layout,
		lock:       lockfile.New(lockfile.DefaultPath),
		runner:     session.NewChrootRunner(),
		pkgCmds:    pkgmgr.DefaultCommands(),
		keepRadius: defaultKeepRadius,
		liveRoot:   "/",
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bootloader == nil {
		m.bootloader = NewCommandBootloader("grub-mkconfig", "-o", "/boot/grub/grub.cfg")
	}
	// Built after all options so the command set binds whichever runner won,
	// regardless of option order.
	m.pkg = pkgmgr.New(m.runner, m.pkgCmds)
	return m
}

// Layout returns the path layout the manager operates in.
func (m *Manager) Layout() Layout {
	return m.layout
}

// listIDs enumerates every snapshot ID with a rootfs member, ascending.
// Entries that do not parse as bundle members are skipped.
func (m *Manager) listIDs(ctx context.Context) ([]ID, error) {
	subs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var ids []ID
	for _, sv := range subs {
		if id, ok := m.layout.ParseRootfs(sv.Path); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// nextID allocates the next snapshot ID: max(existing)+1, or 0 for an
// empty store. It must only be called while the exclusive lock is held by
// the same critical section that performs the clone; allocating outside
// that section would let two mutators race to the same ID.
func (m *Manager) nextID(ctx context.Context) (ID, error) {
	ids, err := m.listIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerate snapshot IDs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return lo.Max(ids) + 1, nil
}

// bundleState reports which members of a bundle exist.
func (m *Manager) bundleState(ctx context.Context, id ID) (present, missing []Kind, err error) {
	subs, err := m.store.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	have := lo.SliceToMap(subs, func(sv volume.Subvolume) (string, struct{}) {
		return sv.Path, struct{}{}
	})
	for _, k := range Kinds {
		if _, ok := have[m.layout.MemberPath(k, id)]; ok {
			present = append(present, k)
		} else {
			missing = append(missing, k)
		}
	}
	return present, missing, nil
}

// ensureExists fails with a not-found error unless id's rootfs member is
// present. The rootfs member defines bundle existence; a bundle missing it
// is absent no matter what siblings remain.
func (m *Manager) ensureExists(ctx context.Context, id ID) error {
	present, _, err := m.bundleState(ctx, id)
	if err != nil {
		return err
	}
	if !lo.Contains(present, KindRootfs) {
		return fmt.Errorf("snapshot %d: %w", id, errdefs.ErrNotFound)
	}
	return nil
}
