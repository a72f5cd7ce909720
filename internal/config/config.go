// Package config loads the ast host configuration. All fields are
// optional; an absent file yields the defaults, so a stock install needs
// no configuration at all.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TunefulSu/ast/internal/lockfile"
	"github.com/TunefulSu/ast/internal/pkgmgr"
	"github.com/TunefulSu/ast/internal/snapshot"
)

// DefaultPath is where ast looks for its configuration.
const DefaultPath = "/etc/ast/config.yaml"

// Config is the on-disk configuration schema.
type Config struct {
	// SnapshotDir is the snapshot store directory on the btrfs filesystem.
	SnapshotDir string `yaml:"snapshot_dir"`

	// Mountpoint is the filesystem root the volume store issues btrfs
	// commands against.
	Mountpoint string `yaml:"mountpoint"`

	// LockPath is the exclusive lock serializing tree mutators.
	LockPath string `yaml:"lock_path"`

	// Bootloader is the argv run after a snapshot is deployed.
	Bootloader []string `yaml:"bootloader"`

	// Packages overrides the guest package manager commands.
	Packages pkgmgr.Commands `yaml:"packages"`

	// KeepRadius is the GC retention window half-width.
	KeepRadius int `yaml:"keep_radius"`
}

// Default returns the stock configuration for a pacman-based install.
func Default() Config {
	return Config{
		SnapshotDir: snapshot.DefaultDir,
		Mountpoint:  "/",
		LockPath:    lockfile.DefaultPath,
		Bootloader:  []string{"grub-mkconfig", "-o", "/boot/grub/grub.cfg"},
		Packages:    pkgmgr.DefaultCommands(),
		KeepRadius:  2,
	}
}

// Load reads the configuration at path, filling unset fields from the
// defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults backfills zero-valued fields. Partial package command
// overrides keep the defaults for the operations they do not name.
func (c *Config) applyDefaults() {
	def := Default()
	if c.SnapshotDir == "" {
		c.SnapshotDir = def.SnapshotDir
	}
	if c.Mountpoint == "" {
		c.Mountpoint = def.Mountpoint
	}
	if c.LockPath == "" {
		c.LockPath = def.LockPath
	}
	if len(c.Bootloader) == 0 {
		c.Bootloader = def.Bootloader
	}
	if len(c.Packages.Install) == 0 {
		c.Packages.Install = def.Packages.Install
	}
	if len(c.Packages.Remove) == 0 {
		c.Packages.Remove = def.Packages.Remove
	}
	if len(c.Packages.Upgrade) == 0 {
		c.Packages.Upgrade = def.Packages.Upgrade
	}
	if c.KeepRadius <= 0 {
		c.KeepRadius = def.KeepRadius
	}
}
