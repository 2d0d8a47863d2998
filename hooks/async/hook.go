// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    FetchEvery:    10, // sample logs: ~every 10th fetch start
//	    SelfHealEvery: 1,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := swrcache.New(swrcache.Options{
//	    Namespace: "taskcache",
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/swrcache"
)

// Hooks forwards events to inner on background workers. Events are dropped
// when the queue is full; the store never waits on a hook.
type Hooks struct {
	inner swrcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Hooks must not be called after Close.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) FetchStarted(k string) { h.try(func() { h.inner.FetchStarted(k) }) }
func (h *Hooks) FetchSettled(k string, d time.Duration, err error) {
	h.try(func() { h.inner.FetchSettled(k, d, err) })
}
func (h *Hooks) FetchDropped(k, r string) { h.try(func() { h.inner.FetchDropped(k, r) }) }
func (h *Hooks) MutationRolledBack(k, op string, err error) {
	h.try(func() { h.inner.MutationRolledBack(k, op, err) })
}
func (h *Hooks) MutationReconciled(k, op string)  { h.try(func() { h.inner.MutationReconciled(k, op) }) }
func (h *Hooks) Evicted(k string)                 { h.try(func() { h.inner.Evicted(k) }) }
func (h *Hooks) RetentionSelfHeal(k, r string)    { h.try(func() { h.inner.RetentionSelfHeal(k, r) }) }
func (h *Hooks) GenError(k string, err error)     { h.try(func() { h.inner.GenError(k, err) }) }
