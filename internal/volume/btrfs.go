package volume

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/TunefulSu/ast/internal/stringutil"
)

// maxToolOutput bounds the diagnostic output captured from a failing btrfs
// invocation before it is propagated in an error.
const maxToolOutput = 1024

// Execer runs an external command and returns its combined output. It
// exists so the parsing paths of the adapter are testable without a btrfs
// filesystem.
type Execer func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.G(ctx).WithField("cmd", name+" "+strings.Join(args, " ")).Debug("exec")
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Btrfs is the production Store, shelling out to the btrfs CLI. The
// mountpoint is the filesystem root the subvolume tree is enumerated from
// (normally "/"); store is the directory holding the snapshot namespaces
// and bounds which subvolumes List reports.
type Btrfs struct {
	mountpoint string
	store      string
	exec       Execer
}

// BtrfsOpt configures a Btrfs store.
type BtrfsOpt func(*Btrfs)

// WithExecer replaces the command runner, used by tests to feed canned
// btrfs output through the parsers.
func WithExecer(e Execer) BtrfsOpt {
	return func(b *Btrfs) {
		b.exec = e
	}
}

// NewBtrfs returns a Store executing against the btrfs filesystem mounted
// at mountpoint, restricted to subvolumes under the store directory.
func NewBtrfs(mountpoint, store string, opts ...BtrfsOpt) *Btrfs {
	b := &Btrfs{
		mountpoint: mountpoint,
		store:      store,
		exec:       runCommand,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Btrfs) run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := b.exec(ctx, "btrfs", args...)
	if err != nil {
		return out, fmt.Errorf("btrfs %s: %w: %s",
			strings.Join(args, " "), err, stringutil.TruncateOutput(out, maxToolOutput))
	}
	return out, nil
}

// Clone snapshots src to dst. The destination must not exist: cloning is
// refused up front so a re-used ID can never overwrite an existing member.
func (b *Btrfs) Clone(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination %s: %w", dst, errdefs.ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination %s: %w", dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}
	_, err := b.run(ctx, "subvolume", "snapshot", src, dst)
	return err
}

// Delete removes a subvolume. A missing path is not an error; deletion is
// the best-effort half of GC and bundle teardown.
func (b *Btrfs) Delete(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	_, err := b.run(ctx, "subvolume", "delete", path)
	return err
}

// SetDefault marks path as the subvolume mounted by default at boot.
func (b *Btrfs) SetDefault(ctx context.Context, path string) error {
	_, err := b.run(ctx, "subvolume", "set-default", path)
	return err
}

// GetDefault returns the absolute path of the current default subvolume.
func (b *Btrfs) GetDefault(ctx context.Context) (string, error) {
	out, err := b.run(ctx, "subvolume", "get-default", b.mountpoint)
	if err != nil {
		return "", err
	}
	rel, err := parseGetDefault(string(out))
	if err != nil {
		return "", err
	}
	return filepath.Join(b.mountpoint, rel), nil
}

// List enumerates every subvolume under the store directory together with
// its lineage metadata.
func (b *Btrfs) List(ctx context.Context) ([]Subvolume, error) {
	// -u/-q add the subvolume's own UUID and its parent (lineage) UUID.
	out, err := b.run(ctx, "subvolume", "list", "-qu", b.mountpoint)
	if err != nil {
		return nil, err
	}
	all, err := parseSubvolumeList(string(out))
	if err != nil {
		return nil, err
	}

	subs := make([]Subvolume, 0, len(all))
	for _, sv := range all {
		abs := filepath.Join(b.mountpoint, sv.Path)
		if !pathWithin(abs, b.store) {
			continue
		}
		sv.Path = abs
		subs = append(subs, sv)
	}
	return subs, nil
}

func pathWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

// parseSubvolumeList parses `btrfs subvolume list -qu` output. Each line
// looks like:
//
//	ID 259 gen 12 top level 258 parent_uuid 7cd9...  uuid 1bfa...  path .snapshots/rootfs/snapshot-1
//
// Lines that do not carry the expected fields are skipped rather than
// failing the whole enumeration.
func parseSubvolumeList(out string) ([]Subvolume, error) {
	var subs []Subvolume
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		sv, ok := parseListLine(fields)
		if !ok {
			log.L.WithField("line", strings.TrimSpace(line)).Debug("skipping unparsable subvolume list line")
			continue
		}
		subs = append(subs, sv)
	}
	return subs, nil
}

func parseListLine(fields []string) (Subvolume, bool) {
	var (
		sv    Subvolume
		seen  int
		perr  error
		parse = func(s string) uuid.UUID {
			// A literal "-" means btrfs has no value for the field.
			if s == "-" {
				return uuid.Nil
			}
			u, err := uuid.Parse(s)
			if err != nil {
				perr = err
			}
			return u
		}
	)
	for i := 0; i < len(fields)-1; i++ {
		switch fields[i] {
		case "parent_uuid":
			sv.ParentUUID = parse(fields[i+1])
			seen++
		case "uuid":
			sv.UUID = parse(fields[i+1])
			seen++
		case "path":
			// The path is the final field; subvolume names cannot contain
			// newlines so everything after "path" belongs to it.
			sv.Path = strings.Join(fields[i+1:], " ")
			seen++
		}
	}
	return sv, seen == 3 && perr == nil && sv.Path != ""
}

// parseGetDefault extracts the path from `btrfs subvolume get-default`
// output, e.g. "ID 257 gen 10 top level 5 path .snapshots/rootfs/snapshot-7".
func parseGetDefault(out string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	for i, f := range fields {
		if f == "path" && i < len(fields)-1 {
			p := strings.Join(fields[i+1:], " ")
			if p == "<FS_TREE>" {
				return "", fmt.Errorf("default subvolume is the top-level filesystem, not a snapshot")
			}
			return p, nil
		}
	}
	return "", fmt.Errorf("unexpected get-default output %q", strings.TrimSpace(out))
}
