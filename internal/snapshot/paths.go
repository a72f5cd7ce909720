// Package snapshot implements the ast snapshot-tree engine: identifier
// allocation, bundle cloning, derived lineage, recursive tree operations,
// retention-window garbage collection and promotion of a snapshot to the
// default boot target.
//
// A snapshot is a bundle of four CoW clones sharing one ID: the root
// filesystem plus /var, /etc and /boot. The tree structure between
// snapshots is never persisted; it is derived on demand from the clone
// lineage metadata the volume store reports.
package snapshot

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ID identifies one snapshot bundle. IDs are allocated monotonically;
// ID 0 is the immutable base created at install time.
type ID int

// BaseID is the install-time base snapshot. It is never collected.
const BaseID ID = 0

// Kind names one member of a snapshot bundle.
type Kind string

const (
	KindRootfs Kind = "rootfs"
	KindVar    Kind = "var"
	KindEtc    Kind = "etc"
	KindBoot   Kind = "boot"
)

// Kinds lists the bundle members in clone order. The rootfs member comes
// first: its lineage metadata is the canonical source of tree structure,
// so it must exist before any sibling member can.
var Kinds = []Kind{KindRootfs, KindVar, KindEtc, KindBoot}

// memberPrefix returns the subvolume name prefix for a member kind. The
// rootfs member keeps the historical "snapshot-" naming; the others use
// their kind.
func memberPrefix(k Kind) string {
	if k == KindRootfs {
		return "snapshot"
	}
	return string(k)
}

// DefaultDir is the conventional snapshot store location.
const DefaultDir = "/.snapshots"

// Layout translates snapshot IDs to the four physical member paths inside
// the store directory. The store holds four parallel namespaces:
//
//	<dir>/rootfs/snapshot-<id>
//	<dir>/var/var-<id>
//	<dir>/etc/etc-<id>
//	<dir>/boot/boot-<id>
type Layout struct {
	Dir string
}

// MemberPath returns the absolute path of one bundle member.
func (l Layout) MemberPath(k Kind, id ID) string {
	return filepath.Join(l.Dir, string(k), fmt.Sprintf("%s-%d", memberPrefix(k), id))
}

// RootfsPath returns the absolute path of the rootfs member, the path a
// confined execution session chroots into.
func (l Layout) RootfsPath(id ID) string {
	return l.MemberPath(KindRootfs, id)
}

// ParseMember extracts the kind and ID from a member path. It reports
// false for any path that is not a well-formed bundle member; callers
// skip such entries rather than failing.
func (l Layout) ParseMember(path string) (Kind, ID, bool) {
	for _, k := range Kinds {
		dir := filepath.Join(l.Dir, string(k))
		if filepath.Dir(path) != dir {
			continue
		}
		name := filepath.Base(path)
		rest, ok := strings.CutPrefix(name, memberPrefix(k)+"-")
		if !ok {
			return "", 0, false
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return "", 0, false
		}
		return k, ID(n), true
	}
	return "", 0, false
}

// ParseRootfs extracts the ID from a rootfs member path.
func (l Layout) ParseRootfs(path string) (ID, bool) {
	k, id, ok := l.ParseMember(path)
	if !ok || k != KindRootfs {
		return 0, false
	}
	return id, true
}
