package swrcache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("swrcache: store closed")
	// ErrNoFetcher is returned when revalidating a key nothing was bound to.
	ErrNoFetcher = errors.New("swrcache: no fetcher bound")
)

// MutationError reports a failed remote write to the caller of Mutate.
// The entry itself is not marked Errored; it keeps (or returns to) its last good data.
type MutationError struct {
	Key        Key
	Op         string
	RolledBack bool // false when nothing was applied optimistically or the key was cleared meanwhile
	Err        error
}

func (e *MutationError) Error() string {
	switch {
	case e.RolledBack:
		return fmt.Sprintf("%s %s: rolled back: %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	}
}

func (e *MutationError) Unwrap() error { return e.Err }
