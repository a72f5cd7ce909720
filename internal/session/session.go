// Package session implements confined execution inside a snapshot: a
// chroot whose guest /var, /etc, /proc and /dev are rebound from the host
// for the duration of a command or interactive shell, with teardown
// guaranteed on every exit path.
package session

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Mounter abstracts the three mount operations a session performs, so the
// lifecycle (ordering, best-effort teardown) is testable without privileges.
type Mounter interface {
	Mount(m mount.Mount, target string) error
	Unmount(target string) error
	MakeRSlave(target string) error
}

// Execer runs a command confined to root with inherited stdio. argv[0] is
// the program; an empty argv means an interactive login shell.
type Execer func(ctx context.Context, root string, argv []string) error

// Runner executes one command to completion inside a snapshot root. It is
// what the engine's tree-run and package operations are written against.
type Runner interface {
	Run(ctx context.Context, root string, argv []string) error
}

type options struct {
	mounter Mounter
	exec    Execer
	bare    bool
}

// Opt configures Open.
type Opt func(*options)

// WithMounter replaces the mount implementation.
func WithMounter(m Mounter) Opt {
	return func(o *options) {
		o.mounter = m
	}
}

// WithExecer replaces the chroot executor.
func WithExecer(e Execer) Opt {
	return func(o *options) {
		o.exec = e
	}
}

// Bare skips the host bind mounts. tree-run and the package pass-throughs
// use bare sessions: the command runs against the snapshot's own /var and
// /etc, which is the whole point of mutating a snapshot in place.
func Bare() Opt {
	return func(o *options) {
		o.bare = true
	}
}

// Session is an open confined-execution environment rooted at a snapshot
// path. It must be closed by the caller on every path; Close is idempotent
// and each unmount attempt is independently best-effort.
type Session struct {
	root     string
	mounter  Mounter
	exec     Execer
	teardown []string // successfully mounted targets, in mount order
	closed   bool
}

// bindSpec is one host path rebound into the session root.
type bindSpec struct {
	source string
	guest  string
	fstype string
}

// hostBinds is the canonical bind set, in mount order. Teardown happens in
// strict reverse of this order.
var hostBinds = []bindSpec{
	{source: "/var", guest: "var", fstype: "bind"},
	{source: "/etc", guest: "etc", fstype: "bind"},
	{source: "proc", guest: "proc", fstype: "proc"},
	{source: "/dev", guest: "dev", fstype: "bind"},
}

// Open prepares a session rooted at the given snapshot path. Individual
// bind failures are logged and do not fail the open: a session with a
// missing /dev bind can still run most maintenance commands, and refusing
// to open would make a single broken mount point fence off the snapshot
// entirely. Only a missing root is fatal.
func Open(ctx context.Context, root string, opts ...Opt) (*Session, error) {
	o := options{
		mounter: defaultMounter(),
		exec:    chrootExec,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot root %s: %w", root, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("stat snapshot root %s: %w", root, err)
	}

	s := &Session{root: root, mounter: o.mounter, exec: o.exec}
	if o.bare {
		return s, nil
	}

	for _, b := range hostBinds {
		target := root + "/" + b.guest
		m := mount.Mount{Source: b.source, Type: b.fstype}
		if b.fstype == "bind" {
			m.Options = []string{"rbind"}
		}
		if err := s.mounter.Mount(m, target); err != nil {
			log.G(ctx).WithError(err).WithField("target", target).Warn("bind mount failed, session continues without it")
			continue
		}
		s.teardown = append(s.teardown, target)
	}

	// /sys stays the guest's own tree but must not propagate mount events
	// back to the host.
	sysTarget := root + "/sys"
	if err := s.mounter.MakeRSlave(sysTarget); err != nil {
		log.G(ctx).WithError(err).WithField("target", sysTarget).Warn("failed to make sys rslave")
	} else {
		s.teardown = append(s.teardown, sysTarget)
	}

	return s, nil
}

// Root returns the snapshot path the session is rooted at.
func (s *Session) Root() string {
	return s.root
}

// Run executes argv to completion inside the session root.
func (s *Session) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command: %w", errdefs.ErrInvalidArgument)
	}
	return s.exec(ctx, s.root, argv)
}

// Shell hands control to an interactive shell inside the session root. The
// shell runs as a child process rather than replacing ast, so the
// teardown in Close still runs when the shell exits or is interrupted.
func (s *Session) Shell(ctx context.Context) error {
	return s.exec(ctx, s.root, nil)
}

// Close unmounts everything the session mounted, in strict reverse order
// of mounting. Every attempt is made regardless of earlier failures; the
// first error is returned after the full sweep so callers can surface it.
// Close is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	for i := len(s.teardown) - 1; i >= 0; i-- {
		target := s.teardown[i]
		if err := s.mounter.Unmount(target); err != nil {
			log.G(ctx).WithError(err).WithField("target", target).Warn("failed to unmount session mount")
			if first == nil {
				first = fmt.Errorf("unmount %s: %w", target, err)
			}
		}
	}
	s.teardown = nil
	return first
}

// ChrootRunner is the production Runner: every Run opens a bare session,
// executes the command and tears the session down before returning.
type ChrootRunner struct {
	opts []Opt
}

// NewChrootRunner returns a Runner confining commands with chroot(1).
func NewChrootRunner(opts ...Opt) *ChrootRunner {
	return &ChrootRunner{opts: opts}
}

func (r *ChrootRunner) Run(ctx context.Context, root string, argv []string) error {
	s, err := Open(ctx, root, append([]Opt{Bare()}, r.opts...)...)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	return s.Run(ctx, argv)
}

var _ Runner = (*ChrootRunner)(nil)
