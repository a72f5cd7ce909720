package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	metaFilename = "meta.json"
	confFilename = "ast.conf"
)

// metaPath returns the metadata sidecar path inside a snapshot's rootfs.
func (m *Manager) metaPath(id ID) string {
	return filepath.Join(m.layout.RootfsPath(id), metaFilename)
}

// ConfPath returns the free-form per-snapshot configuration file path.
func (m *Manager) ConfPath(id ID) string {
	return filepath.Join(m.layout.RootfsPath(id), confFilename)
}

// readMeta loads the sidecar as a generic object so fields ast does not
// know about survive a rewrite. A missing sidecar reads as empty: the file
// is created lazily on the first write.
func (m *Manager) readMeta(id ID) (map[string]any, error) {
	data, err := os.ReadFile(m.metaPath(id))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata of snapshot %d: %w", id, err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata of snapshot %d: %w", id, err)
	}
	return meta, nil
}

func (m *Manager) writeMeta(id ID, meta map[string]any) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.metaPath(id), data, 0o644); err != nil {
		return fmt.Errorf("write metadata of snapshot %d: %w", id, err)
	}
	return nil
}

// SetDescription attaches a description to a snapshot, creating the
// metadata sidecar on first use.
func (m *Manager) SetDescription(ctx context.Context, id ID, desc string) error {
	if err := m.ensureExists(ctx, id); err != nil {
		return err
	}
	meta, err := m.readMeta(id)
	if err != nil {
		return err
	}
	meta["desc"] = desc
	return m.writeMeta(id, meta)
}

// Description returns a snapshot's description, empty when none is set.
func (m *Manager) Description(ctx context.Context, id ID) (string, error) {
	if err := m.ensureExists(ctx, id); err != nil {
		return "", err
	}
	meta, err := m.readMeta(id)
	if err != nil {
		return "", err
	}
	desc, _ := meta["desc"].(string)
	return desc, nil
}

// EnsureConf makes sure the per-snapshot configuration file exists and
// returns its path, for the CLI to hand to $EDITOR.
func (m *Manager) EnsureConf(ctx context.Context, id ID) (string, error) {
	if err := m.ensureExists(ctx, id); err != nil {
		return "", err
	}
	path := m.ConfPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("ensure config of snapshot %d: %w", id, err)
	}
	f.Close()
	return path, nil
}
