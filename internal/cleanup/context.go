// Package cleanup provides utilities to help cleanup.
package cleanup

import (
	"context"
	"time"
)

// cleanupTimeout is the maximum time allowed for cleanup operations.
// 10 seconds covers typical unmount and subvolume removal latencies while
// preventing indefinite hangs during shutdown.
const cleanupTimeout = 10 * time.Second

// Do runs the provided function with a context that:
// 1. Is not cancelled when the parent context is cancelled
// 2. Has a timeout of cleanupTimeout (10 seconds)
//
// Session teardown and GC fan-out use this so mounts and half-deleted
// bundles are still reclaimed after the main operation's context has been
// cancelled, e.g. by an interrupt.
func Do(ctx context.Context, do func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	do(ctx)
	cancel()
}
