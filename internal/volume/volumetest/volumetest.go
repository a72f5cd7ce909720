// Package volumetest provides an in-memory volume.Store with the same
// contract as the btrfs-backed one: atomic clone with lineage tracking,
// refuse-on-existing destinations, best-effort delete. The snapshot engine
// tests run against it so they need neither root nor a btrfs filesystem.
package volumetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/TunefulSu/ast/internal/volume"
)

// Store is an in-memory volume.Store. The zero value is not usable;
// construct with New. All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	subvols     map[string]volume.Subvolume
	defaultPath string

	// FailClone, when set, is consulted before each Clone; returning a
	// non-nil error makes that clone fail. Used to exercise partial-bundle
	// handling.
	FailClone func(src, dst string) error

	// FailDelete, when set, makes Delete of matching paths fail. Used to
	// exercise best-effort GC fan-out.
	FailDelete func(path string) error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{subvols: make(map[string]volume.Subvolume)}
}

// Create seeds a root subvolume with no lineage parent, standing in for a
// subvolume made by `btrfs subvolume create` or an installer snapshot.
func (s *Store) Create(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subvols[path] = volume.Subvolume{Path: path, UUID: uuid.New()}
}

// Exists reports whether a subvolume is present at path.
func (s *Store) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subvols[path]
	return ok
}

func (s *Store) Clone(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailClone != nil {
		if err := s.FailClone(src, dst); err != nil {
			return err
		}
	}
	parent, ok := s.subvols[src]
	if !ok {
		return fmt.Errorf("source %s: %w", src, errdefs.ErrNotFound)
	}
	if _, ok := s.subvols[dst]; ok {
		return fmt.Errorf("destination %s: %w", dst, errdefs.ErrAlreadyExists)
	}
	s.subvols[dst] = volume.Subvolume{
		Path:       dst,
		UUID:       uuid.New(),
		ParentUUID: parent.UUID,
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDelete != nil {
		if err := s.FailDelete(path); err != nil {
			return err
		}
	}
	delete(s.subvols, path)
	return nil
}

func (s *Store) SetDefault(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subvols[path]; !ok {
		return fmt.Errorf("set-default %s: %w", path, errdefs.ErrNotFound)
	}
	s.defaultPath = path
	return nil
}

func (s *Store) GetDefault(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.defaultPath == "" {
		return "", fmt.Errorf("no default subvolume set")
	}
	return s.defaultPath, nil
}

func (s *Store) List(ctx context.Context) ([]volume.Subvolume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]volume.Subvolume, 0, len(s.subvols))
	for _, sv := range s.subvols {
		subs = append(subs, sv)
	}
	return subs, nil
}

var _ volume.Store = (*Store)(nil)
