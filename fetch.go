package swrcache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Fetcher produces fresh data for one key from the transport.
type Fetcher func(ctx context.Context) (any, error)

type binding struct {
	fetch Fetcher
	codec anyCodec // nil => never retained
}

// BindOption configures a binding.
type BindOption func(*binding)

type fetchResult struct {
	val any
	err error
	gen uint64 // generation observed when the fetch began
	seq uint64 // completion order within the store
	at  time.Time
}

// BindFetcher associates key with f, replacing any previous binding. The entry is
// created if absent and, when the retention tier holds a value for key, seeded
// with it. Bindings are dropped with their entry on eviction, so resources bind
// again before they subscribe.
func (s *Store) BindFetcher(key Key, f Fetcher, opts ...BindOption) {
	b := &binding{fetch: f}
	for _, o := range opts {
		o(b)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e, created := s.entryLocked(key)
	e.bind = b
	seed := created && s.retainsLocked(e)
	var obs uint64
	if seed {
		obs = s.genLocked(key)
	}
	s.mu.Unlock()

	if seed {
		s.seed(e, b, obs)
	}
}

// Bind is the typed form of Store.BindFetcher.
func Bind[T any](s *Store, key Key, fetch func(context.Context) (T, error), opts ...BindOption) {
	s.BindFetcher(key, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}, opts...)
}

// Revalidate fetches key regardless of its status and waits for the result.
// While a fetch for key is in flight, callers attach to it instead of issuing
// another one and all of them get the same value or error. Canceling ctx stops
// the wait, not the fetch; its result still lands in the store.
func (s *Store) Revalidate(ctx context.Context, key Key) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok || e.bind == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, key)
	}
	launch := s.beginFetchLocked(e)
	s.mu.Unlock()

	s.drain(e)
	return s.await(ctx, launch())
}

// Fetch is the typed form of Store.Revalidate.
func Fetch[T any](ctx context.Context, s *Store, key Key) (T, error) {
	var zero T
	v, err := s.Revalidate(ctx, key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("swrcache: %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}

func (s *Store) await(ctx context.Context, ch <-chan *fetchResult) (any, error) {
	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// beginFetchLocked marks e Loading and returns the func that starts (or joins)
// the fetch. The returned channel yields the shared result after it was applied.
func (s *Store) beginFetchLocked(e *entry) func() <-chan *fetchResult {
	b := e.bind
	key := e.key
	obs := s.genLocked(key)
	e.fetching++
	s.setLoadingLocked(e)
	s.bg.Add(1)

	// A clear bumps the generation; fetches begun after it must not join one begun before.
	flightKey := key.id + "#" + strconv.FormatUint(obs, 10)

	return func() <-chan *fetchResult {
		out := make(chan *fetchResult, 1)
		ch := s.flight.DoChan(flightKey, func() (any, error) {
			return s.runFetch(key, b, obs), nil
		})
		go func() {
			defer s.bg.Done()
			r := <-ch
			res := r.Val.(*fetchResult)
			s.settle(e, res)
			out <- res
		}()
		return out
	}
}

func (s *Store) runFetch(key Key, b *binding, obs uint64) *fetchResult {
	s.hooks.FetchStarted(key.id)
	start := s.now()
	v, err := b.fetch(s.ctx)
	at := s.now()
	s.hooks.FetchSettled(key.id, at.Sub(start), err)
	s.log.Debug("fetch settled", Fields{"key": key.id, "took": at.Sub(start), "err": err})

	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()
	return &fetchResult{val: v, err: err, gen: obs, seq: seq, at: at}
}

// settle applies res to e once, whichever waiter gets here first. By the time it
// runs the single-flight slot is already released, so listeners may revalidate.
func (s *Store) settle(e *entry, res *fetchResult) {
	s.mu.Lock()
	e.fetching--
	switch {
	case res.seq == e.applied:
		// another waiter of the same call applied it
	case res.seq < e.applied:
		s.hooks.FetchDropped(e.key.id, "superseded")
	case s.genLocked(e.key) != res.gen:
		e.applied = res.seq
		s.hooks.FetchDropped(e.key.id, "gen_mismatch")
		s.log.Debug("fetch dropped (gen mismatch)", Fields{"key": e.key.id, "obs": res.gen})
	case res.err != nil:
		e.applied = res.seq
		s.setErrorLocked(e, res.err, res.at)
	default:
		e.applied = res.seq
		s.setDataLocked(e, res.val, res.at)
	}
	if e.fetching == 0 && e.state.Status == StatusLoading {
		// nothing applied and nothing left in flight
		if e.state.Data != nil {
			e.state.Status = StatusReady
		} else {
			e.state.Status = StatusEmpty
		}
		s.enqueueLocked(e)
	}
	retain := s.evictLocked(e)
	s.mu.Unlock()

	s.drain(e)
	if retain != nil {
		retain()
	}
}
