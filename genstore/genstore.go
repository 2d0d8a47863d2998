// Package genstore keeps a generation counter per resource key.
//
// The store snapshots a key's generation when a fetch starts and applies the
// result only if the generation is unchanged when it settles. Clearing a key
// (logout, account deletion) bumps it, so late fetches and retained values
// from before the clear are discarded.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes generations not bumped within retention (no-op where the backend expires keys).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
