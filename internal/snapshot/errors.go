package snapshot

import (
	"fmt"
	"strings"
)

// PartialBundleError reports a bundle clone that failed after some members
// were already created. The engine deliberately does not roll the created
// members back: partial progress stays visible for an operator (or the
// Repair operation) to finish or remove, instead of being silently undone.
type PartialBundleError struct {
	ID      ID     // the destination bundle
	Present []Kind // members that were created before the failure
	Missing []Kind // members that failed or were never attempted
	Cause   error  // the member failure that stopped the clone
}

func (e *PartialBundleError) Error() string {
	return fmt.Sprintf("bundle %d partially created: present [%s], missing [%s]: %v",
		e.ID, joinKinds(e.Present), joinKinds(e.Missing), e.Cause)
}

func (e *PartialBundleError) Unwrap() error {
	return e.Cause
}

// BootloaderError reports a promotion whose default-subvolume change
// committed but whose bootloader regeneration failed. This is kept
// distinct from a set-default failure because the blast radius differs:
// the system now boots the promoted snapshot with a stale boot menu, and
// re-running the generator is the fix, not re-promoting.
type BootloaderError struct {
	ID    ID
	Cause error
}

func (e *BootloaderError) Error() string {
	return fmt.Sprintf("snapshot %d is now the default boot target but bootloader regeneration failed: %v", e.ID, e.Cause)
}

func (e *BootloaderError) Unwrap() error {
	return e.Cause
}

// TreeRunError aggregates the snapshots a tree-run command failed on.
type TreeRunError struct {
	Failed []ID
	First  error
}

func (e *TreeRunError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, id := range e.Failed {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("tree-run failed on %d snapshot(s) [%s], first failure: %v",
		len(e.Failed), strings.Join(ids, " "), e.First)
}

func (e *TreeRunError) Unwrap() error {
	return e.First
}

func joinKinds(kinds []Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, " ")
}
