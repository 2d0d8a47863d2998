package swrcache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Transform maps the current data of an entry (nil when absent) to its new data.
// Return nil for absent, or Unchanged to leave the entry as it is.
type Transform func(old any) any

type unchangedSentinel struct{}

// Unchanged is returned by a Transform to skip the change and its notification.
var Unchanged any = unchangedSentinel{}

func isUnchanged(v any) bool {
	_, ok := v.(unchangedSentinel)
	return ok
}

// Replace returns a Transform that installs v regardless of the old data.
func Replace(v any) Transform {
	return func(any) any { return v }
}

// Edit adapts a typed edit. Absent data (or data of another type) and edits that
// report no change yield Unchanged.
func Edit[T any](fn func(old T) (next T, changed bool)) Transform {
	return func(old any) any {
		cur, ok := old.(T)
		if !ok {
			return Unchanged
		}
		next, changed := fn(cur)
		if !changed {
			return Unchanged
		}
		return next
	}
}

// Mutation describes one optimistic write against a key.
type Mutation struct {
	Op string // for errors and logs, e.g. "task.update"

	// Optimistic is applied before Commit starts. nil => no local change.
	Optimistic Transform
	// Commit performs the remote write and returns the server's response.
	Commit func(ctx context.Context) (any, error)
	// Reconcile merges the response into the current data after a successful
	// Commit. nil => the optimistic result stands.
	Reconcile func(current, resp any) any
	// Revalidate forces a fetch of the key after a successful Commit and waits for it.
	Revalidate bool
}

// Mutate runs m against key:
//
//  1. snapshot the current data and apply m.Optimistic (listeners see it before any I/O)
//  2. run m.Commit
//  3. on failure restore the snapshot and return a *MutationError; the entry is not
//     marked Errored and nothing is retried
//  4. on success apply m.Reconcile, then revalidate if asked
//
// The entry is kept alive until Commit returns even if every subscriber leaves.
// An unwatched entry that is still Empty afterwards is dropped.
// If key was cleared while Commit ran, neither rollback nor reconcile touch it.
// Concurrent mutations of one key are last-write-wins: a later mutation snapshots
// the earlier one's optimistic data, and a rollback of the earlier one discards it.
func (s *Store) Mutate(ctx context.Context, key Key, m Mutation) (any, error) {
	if m.Commit == nil {
		return nil, fmt.Errorf("swrcache: mutation %q has no commit", m.Op)
	}
	id := uuid.NewString()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e, _ := s.entryLocked(key)
	obs := s.genLocked(key)
	snapshot := e.state.Data
	applied := m.Optimistic != nil && s.mutateLocked(e, m.Optimistic)
	e.pending++
	s.mu.Unlock()
	s.drain(e)

	resp, err := m.Commit(ctx)

	var (
		launch     func() <-chan *fetchResult
		reconciled bool
	)
	s.mu.Lock()
	moved := s.genLocked(key) != obs
	rolledBack := err != nil && applied && !moved
	switch {
	case rolledBack:
		s.mutateLocked(e, Replace(snapshot))
	case err != nil, moved:
	default:
		if m.Reconcile != nil {
			reconciled = s.mutateLocked(e, func(cur any) any { return m.Reconcile(cur, resp) })
		}
		if m.Revalidate && e.bind != nil && !s.closed {
			launch = s.beginFetchLocked(e)
		}
	}
	e.pending--
	if launch == nil && len(e.subs) == 0 && e.state.Status == StatusEmpty {
		// nobody watches and nothing is cached: the write leaves no entry behind
		e.evictable = true
	}
	retain := s.evictLocked(e)
	s.mu.Unlock()

	s.drain(e)
	if retain != nil {
		retain()
	}

	if err != nil {
		if rolledBack {
			s.hooks.MutationRolledBack(key.id, m.Op, err)
		}
		s.log.Warn("mutation failed", Fields{"key": key.id, "op": m.Op, "id": id, "rolled_back": rolledBack, "err": err})
		return nil, &MutationError{Key: key, Op: m.Op, RolledBack: rolledBack, Err: err}
	}
	if reconciled {
		s.hooks.MutationReconciled(key.id, m.Op)
	}
	if launch != nil {
		if _, ferr := s.await(ctx, launch()); ferr != nil {
			// the write went through; the failed fetch is visible on the entry
			s.log.Debug("revalidate after mutation failed", Fields{"key": key.id, "op": m.Op, "id": id, "err": ferr})
		}
	}
	s.log.Debug("mutation committed", Fields{"key": key.id, "op": m.Op, "id": id, "moved": moved})
	return resp, nil
}
