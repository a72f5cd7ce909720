package snapshot

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/containerd/log"

	"github.com/TunefulSu/ast/internal/stringutil"
)

// Bootloader regenerates the boot menu from the current volume-store
// state. It must run after the default subvolume changes, never before.
type Bootloader interface {
	Regenerate(ctx context.Context) error
}

// commandBootloader invokes an external generator such as grub-mkconfig.
type commandBootloader struct {
	argv []string
}

// NewCommandBootloader returns a Bootloader that runs the given command.
func NewCommandBootloader(argv ...string) Bootloader {
	return &commandBootloader{argv: argv}
}

func (b *commandBootloader) Regenerate(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, b.argv[0], b.argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(b.argv, " "), err, stringutil.TruncateOutput(out, 1024))
	}
	return nil
}

// Promote marks id's rootfs member as the default boot target and then
// regenerates the bootloader configuration, in that order: the generator
// reads current state, so running it first would bake in the old target.
//
// If regeneration fails the default-subvolume change is not rolled back;
// the system stays pointed at id with a stale boot menu, reported as a
// BootloaderError so callers can tell this apart from a failed
// set-default (which leaves no state changed).
func (m *Manager) Promote(ctx context.Context, id ID) error {
	unlock, err := m.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.ensureExists(ctx, id); err != nil {
		return err
	}
	if err := m.store.SetDefault(ctx, m.layout.RootfsPath(id)); err != nil {
		return fmt.Errorf("set default subvolume to snapshot %d: %w", id, err)
	}
	if err := m.bootloader.Regenerate(ctx); err != nil {
		return &BootloaderError{ID: id, Cause: err}
	}
	log.G(ctx).WithField("id", id).Info("deployed snapshot, reboot to activate")
	return nil
}

// BaseUpdate refreshes the immutable base: the live root is fully
// upgraded, then the base rootfs member is deleted and re-snapshotted from
// the running system. Runs under the exclusive lock like every other
// mutator.
func (m *Manager) BaseUpdate(ctx context.Context) error {
	unlock, err := m.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.pkg.FullUpgrade(ctx, m.liveRoot); err != nil {
		return fmt.Errorf("upgrade live system: %w", err)
	}

	base := m.layout.RootfsPath(BaseID)
	if err := m.store.Delete(ctx, base); err != nil {
		return fmt.Errorf("delete old base snapshot: %w", err)
	}
	if err := m.store.Clone(ctx, m.liveRoot, base); err != nil {
		return fmt.Errorf("snapshot live root as base: %w", err)
	}
	log.G(ctx).Info("base snapshot updated")
	return nil
}
