// Package pkgmgr passes package operations through to the guest package
// manager, executed inside a confined session rooted at the target
// snapshot. ast has no package logic of its own; it only decides which
// snapshot root the tool runs against.
package pkgmgr

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/TunefulSu/ast/internal/session"
)

// Commands holds the argv prefixes for the three supported operations.
// Package names are appended to Install and Remove.
type Commands struct {
	Install []string `yaml:"install"`
	Remove  []string `yaml:"remove"`
	Upgrade []string `yaml:"upgrade"`
}

// DefaultCommands targets pacman, the package manager ast systems ship.
func DefaultCommands() Commands {
	return Commands{
		Install: []string{"pacman", "-S", "--noconfirm"},
		Remove:  []string{"pacman", "-Rsn", "--noconfirm"},
		Upgrade: []string{"pacman", "-Syu", "--noconfirm"},
	}
}

// Manager invokes the guest package manager inside snapshot roots.
type Manager struct {
	runner session.Runner
	cmds   Commands
}

// New returns a Manager executing through the given runner.
func New(runner session.Runner, cmds Commands) *Manager {
	return &Manager{runner: runner, cmds: cmds}
}

// Install installs packages into the snapshot rooted at root.
func (m *Manager) Install(ctx context.Context, root string, pkgs []string) error {
	if len(pkgs) == 0 {
		return fmt.Errorf("no packages given: %w", errdefs.ErrInvalidArgument)
	}
	return m.runner.Run(ctx, root, append(append([]string{}, m.cmds.Install...), pkgs...))
}

// Remove removes packages from the snapshot rooted at root.
func (m *Manager) Remove(ctx context.Context, root string, pkgs []string) error {
	if len(pkgs) == 0 {
		return fmt.Errorf("no packages given: %w", errdefs.ErrInvalidArgument)
	}
	return m.runner.Run(ctx, root, append(append([]string{}, m.cmds.Remove...), pkgs...))
}

// FullUpgrade upgrades every package in the snapshot rooted at root.
func (m *Manager) FullUpgrade(ctx context.Context, root string) error {
	return m.runner.Run(ctx, root, append([]string{}, m.cmds.Upgrade...))
}
