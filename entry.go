package swrcache

import "time"

// Status is the lifecycle state of a cache entry.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusReady
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Entry is an immutable snapshot of one key's cache state.
//
// Data is non-nil only when Status is Ready, or when Status is Loading and the
// previous Ready data stays visible while a revalidation runs. Err is non-nil
// only when Status is Errored.
type Entry struct {
	Status    Status
	Data      any // nil => absent
	Err       error
	FetchedAt time.Time // zero => never fetched
}

func (e Entry) HasData() bool { return e.Data != nil }

// Stale reports whether a revalidation is running behind visible data.
func (e Entry) Stale() bool { return e.Status == StatusLoading && e.Data != nil }

// View is a typed read of an Entry.
type View[T any] struct {
	Status    Status
	Data      T
	HasData   bool
	Err       error
	FetchedAt time.Time
}

// ViewOf converts e; data of a different dynamic type reads as absent.
func ViewOf[T any](e Entry) View[T] {
	v := View[T]{Status: e.Status, Err: e.Err, FetchedAt: e.FetchedAt}
	if d, ok := e.Data.(T); ok {
		v.Data, v.HasData = d, true
	}
	return v
}
