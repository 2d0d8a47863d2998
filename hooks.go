package swrcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: the store calls them inline,
// sometimes while a fetch or mutation is settling. Keys are canonical key strings.
type Hooks interface {
	// A fetcher invocation started (once per deduplicated call).
	FetchStarted(key string)
	// A fetcher invocation returned. err is the fetcher's error, if any.
	FetchSettled(key string, took time.Duration, err error)
	// A settled fetch was not applied.
	// reason ∈ {"gen_mismatch", "superseded"}
	FetchDropped(key string, reason string)

	// A remote write failed and the optimistic change was undone.
	MutationRolledBack(key, op string, err error)
	// Server-authoritative fields were merged into an optimistic result.
	MutationReconciled(key, op string)

	// The last subscriber left and nothing was pending; the entry was dropped.
	Evicted(key string)
	// A retained value was rejected on read. It is deleted unless reason is "key_mismatch".
	// reason ∈ {"corrupt", "gen_mismatch", "key_mismatch", "value_decode"}
	RetentionSelfHeal(storageKey, reason string)

	// The GenStore failed to snapshot or bump (likely backend outage).
	GenError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchStarted(string)                       {}
func (NopHooks) FetchSettled(string, time.Duration, error) {}
func (NopHooks) FetchDropped(string, string)               {}
func (NopHooks) MutationRolledBack(string, string, error)  {}
func (NopHooks) MutationReconciled(string, string)         {}
func (NopHooks) Evicted(string)                            {}
func (NopHooks) RetentionSelfHeal(string, string)          {}
func (NopHooks) GenError(string, error)                    {}
