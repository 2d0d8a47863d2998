package swrcache

import (
	"context"
	"time"

	gen "github.com/unkn0wn-root/swrcache/genstore"
	pr "github.com/unkn0wn-root/swrcache/provider"
)

// SetCostFunc prices a retained value for cost-aware providers (ristretto).
type SetCostFunc func(storageKey string, raw []byte) int64

// Options tune a Store. Every field is optional.
type Options struct {
	Namespace string // isolates generation and retention keys; default "swr"

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// StaleAfter is how old Ready data may be before a (re)subscription revalidates it.
	// 0 => always revalidate on (re)subscription.
	StaleAfter time.Duration

	GenStore        gen.GenStore  // nil => in-process generations
	GenRetention    time.Duration // local generations only; 0 => 24h
	CleanupInterval time.Duration // local generations only; 0 => 1h

	// Provider enables the retention tier: evicted entries whose binding has a codec
	// are kept here and seed the entry when it is recreated. nil => disabled.
	Provider       pr.Provider
	RetentionTTL   time.Duration // 0 => 10m
	ComputeSetCost SetCostFunc   // default len(raw)

	Now     func() time.Time // default time.Now
	Context context.Context  // parent for background fetches; default context.Background()
}

// New builds a Store. Close it to stop background work and release the providers.
func New(opts Options) (*Store, error) {
	return newStore(opts)
}
