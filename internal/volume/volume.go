// Package volume adapts the btrfs subvolume primitives ast is built on:
// atomic snapshot (clone), delete, set-default and enumeration with lineage
// metadata. Nothing above this package invokes btrfs directly, and nothing
// in this package knows about snapshot IDs or bundles.
package volume

import (
	"context"

	"github.com/google/uuid"
)

// Subvolume describes one enumerated CoW subvolume. UUID is the identifier
// btrfs assigned at creation; ParentUUID is the lineage identifier, the
// UUID of the subvolume this one was snapshotted from (uuid.Nil when the
// subvolume is not a snapshot of anything).
type Subvolume struct {
	Path       string
	UUID       uuid.UUID
	ParentUUID uuid.UUID
}

// Store is the set of CoW primitives consumed by the snapshot engine.
// Paths are absolute. Implementations must guarantee:
//
//   - Clone is atomic and fails without side effects when dst already exists.
//   - Delete is best-effort and returns nil for an already-missing path.
//   - GetDefault reads the current default boot target, never a cached one.
type Store interface {
	Clone(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	SetDefault(ctx context.Context, path string) error
	GetDefault(ctx context.Context) (string, error)
	List(ctx context.Context) ([]Subvolume, error)
}
