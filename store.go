package swrcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	gen "github.com/unkn0wn-root/swrcache/genstore"
	pr "github.com/unkn0wn-root/swrcache/provider"
)

// Listener receives the new state of a key after every change.
// Listeners run synchronously, one at a time per key, in the order the changes
// happened. A listener may call back into the Store; such changes are delivered
// after it returns.
type Listener func(key Key, e Entry)

type subscriber struct {
	id uint64
	fn Listener
}

type entry struct {
	key   Key
	state Entry
	bind  *binding

	subs    []subscriber
	evictable bool // set once watched, or when a mutation leaves an unwatched entry empty

	fetching int    // revalidations begun and not yet settled
	pending  int    // mutations waiting on their remote write
	applied  uint64 // seq of the newest fetch result taken into account

	queue    []Entry
	draining bool
}

// Store is the process-wide keyed resource cache. All entry changes go through
// its methods; data handed to it must not be modified afterwards.
type Store struct {
	ns         string
	log        Logger
	hooks      Hooks
	gen        gen.GenStore
	prov       pr.Provider
	retainTTL  time.Duration
	cost       SetCostFunc
	staleAfter time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  map[Key]*entry
	subSeq   uint64
	fetchSeq uint64
	closed   bool

	flight singleflight.Group
	bg     sync.WaitGroup
}

func newStore(opts Options) (*Store, error) {
	if opts.StaleAfter < 0 {
		return nil, fmt.Errorf("swrcache: StaleAfter must not be negative")
	}
	if opts.RetentionTTL < 0 {
		return nil, fmt.Errorf("swrcache: RetentionTTL must not be negative")
	}

	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}

	s := &Store{
		prov:       opts.Provider,
		staleAfter: opts.StaleAfter,
		entries:    make(map[Key]*entry),
	}
	s.ctx, s.cancel = context.WithCancel(parent)

	// defaults
	s.ns = coalesce(opts.Namespace, defaultNamespace)
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.retainTTL = coalesce(opts.RetentionTTL, defaultRetentionTTL)

	if opts.ComputeSetCost != nil {
		s.cost = opts.ComputeSetCost
	} else {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if opts.Now != nil {
		s.now = opts.Now
	} else {
		s.now = time.Now
	}
	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = gen.NewLocal(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}
	return s, nil
}

// Close stops accepting work, cancels background fetches, waits for them to
// settle (bounded by ctx) and closes the generation store and provider.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	if err := s.gen.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close gen store: %w", err))
	}
	if s.prov != nil {
		if err := s.prov.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close provider: %w", err))
		}
	}
	s.log.Info("store closed", Fields{"ns": s.ns})
	return errors.Join(errs...)
}

// Get returns the current entry for key. An absent key reads as Empty and is
// not created.
func (s *Store) Get(key Key) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.state
	}
	return Entry{Status: StatusEmpty}
}

// Read is the typed form of Store.Get.
func Read[T any](s *Store, key Key) View[T] {
	return ViewOf[T](s.Get(key))
}

// Subscribe registers fn for changes to key and returns its unsubscribe func.
// If a fetcher is bound, the key is revalidated unless a fetch is already in
// flight or Ready data is younger than Options.StaleAfter.
func (s *Store) Subscribe(key Key, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	e, _ := s.entryLocked(key)
	s.subSeq++
	id := s.subSeq
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.evictable = true

	var launch func() <-chan *fetchResult
	if s.needsFetchLocked(e) {
		launch = s.beginFetchLocked(e)
	}
	s.mu.Unlock()

	s.drain(e)
	if launch != nil {
		launch()
	}

	var once sync.Once
	return func() { once.Do(func() { s.unsubscribe(e, id) }) }
}

func (s *Store) unsubscribe(e *entry, id uint64) {
	s.mu.Lock()
	for i, sub := range e.subs {
		if sub.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			break
		}
	}
	retain := s.evictLocked(e)
	s.mu.Unlock()
	if retain != nil {
		retain()
	}
}

// SetData makes key Ready with data. A nil data leaves the key Empty.
func (s *Store) SetData(key Key, data any) {
	s.update(key, func(e *entry) {
		s.setDataLocked(e, data, s.now())
	})
}

// SetError makes key Errored with err, dropping any data.
func (s *Store) SetError(key Key, err error) {
	s.update(key, func(e *entry) {
		s.setErrorLocked(e, err, s.now())
	})
}

// MutateLocal applies fn to the current data of key without a fetch. The status
// stays as it is (Ready stays Ready, a running revalidation stays Loading) unless
// fn returns nil (absent) on a non-Loading entry, which empties it. Returning
// Unchanged skips the change and its notification. fn runs under the store lock
// and must not call back into the Store.
func (s *Store) MutateLocal(key Key, fn Transform) (changed bool) {
	s.update(key, func(e *entry) {
		changed = s.mutateLocked(e, fn)
	})
	return changed
}

// Clear drops the data of key and bumps its generation, so fetches and
// mutations started before the clear no longer touch it. A nil reason leaves
// the entry Empty; otherwise it becomes Errored with reason.
func (s *Store) Clear(key Key, reason error) {
	var dropRetained bool
	s.update(key, func(e *entry) {
		s.bumpLocked(key)
		if reason == nil {
			e.state = Entry{Status: StatusEmpty}
		} else {
			e.state = Entry{Status: StatusErrored, Err: reason, FetchedAt: s.now()}
		}
		s.enqueueLocked(e)
		if dropRetained = s.retainsLocked(e); dropRetained {
			s.bg.Add(1)
		}
	})
	if dropRetained {
		defer s.bg.Done()
		if err := s.prov.Del(s.ctx, s.storageKey(key)); err != nil {
			s.log.Debug("retained value delete failed", Fields{"key": key.id, "err": err})
		}
	}
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Entries     int
	Subscribers int
	Fetching    int
	Pending     int
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Entries: len(s.entries)}
	for _, e := range s.entries {
		st.Subscribers += len(e.subs)
		st.Fetching += e.fetching
		st.Pending += e.pending
	}
	return st
}

// update runs fn under the lock against key's entry and then delivers notifications.
func (s *Store) update(key Key, fn func(e *entry)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e, _ := s.entryLocked(key)
	fn(e)
	s.mu.Unlock()
	s.drain(e)
}

func (s *Store) entryLocked(key Key) (*entry, bool) {
	if e, ok := s.entries[key]; ok {
		return e, false
	}
	e := &entry{key: key}
	s.entries[key] = e
	return e, true
}

func (s *Store) needsFetchLocked(e *entry) bool {
	if e.bind == nil || e.fetching > 0 {
		return false
	}
	switch e.state.Status {
	case StatusReady:
		return s.staleAfter == 0 || s.now().Sub(e.state.FetchedAt) >= s.staleAfter
	default:
		return true
	}
}

func (s *Store) setLoadingLocked(e *entry) {
	switch e.state.Status {
	case StatusLoading:
		return
	case StatusReady:
		e.state.Status = StatusLoading // previous data stays visible
	default:
		e.state = Entry{Status: StatusLoading, FetchedAt: e.state.FetchedAt}
	}
	s.enqueueLocked(e)
}

func (s *Store) setDataLocked(e *entry, data any, at time.Time) {
	if data == nil {
		e.state = Entry{Status: StatusEmpty, FetchedAt: at}
	} else {
		e.state = Entry{Status: StatusReady, Data: data, FetchedAt: at}
	}
	s.enqueueLocked(e)
}

func (s *Store) setErrorLocked(e *entry, err error, at time.Time) {
	e.state = Entry{Status: StatusErrored, Err: err, FetchedAt: at}
	s.enqueueLocked(e)
}

func (s *Store) mutateLocked(e *entry, fn Transform) bool {
	out := fn(e.state.Data)
	if isUnchanged(out) {
		return false
	}
	switch {
	case e.state.Status == StatusLoading:
		e.state.Data = out
	case out == nil:
		e.state = Entry{Status: StatusEmpty, FetchedAt: e.state.FetchedAt}
	default:
		e.state = Entry{Status: StatusReady, Data: out, FetchedAt: e.state.FetchedAt}
	}
	s.enqueueLocked(e)
	return true
}

// evictLocked drops e once it is unwatched and idle. The returned func, if any,
// writes e's data to the retention tier and must run after unlocking.
func (s *Store) evictLocked(e *entry) func() {
	if !e.evictable || len(e.subs) > 0 || e.pending > 0 || e.fetching > 0 {
		return nil
	}
	if s.entries[e.key] != e {
		return nil
	}
	delete(s.entries, e.key)
	s.hooks.Evicted(e.key.id)
	return s.retainLocked(e)
}

func (s *Store) genLocked(key Key) uint64 {
	g, err := s.gen.Snapshot(s.ctx, key.id)
	if err != nil {
		// Conservative: 0 makes settles that observed a real generation drop.
		s.hooks.GenError(key.id, err)
		s.log.Warn("gen snapshot error", Fields{"key": key.id, "err": err})
		return 0
	}
	return g
}

func (s *Store) bumpLocked(key Key) uint64 {
	g, err := s.gen.Bump(s.ctx, key.id)
	if err != nil {
		s.hooks.GenError(key.id, err)
		s.log.Error("gen bump error", Fields{"key": key.id, "err": err})
		return 0
	}
	return g
}

func (s *Store) enqueueLocked(e *entry) {
	e.queue = append(e.queue, e.state)
}

// drain delivers queued states for e. Only one goroutine drains an entry at a
// time; others (including listeners re-entering the store) leave their states
// in the queue for it.
func (s *Store) drain(e *entry) {
	for {
		s.mu.Lock()
		if e.draining || len(e.queue) == 0 {
			s.mu.Unlock()
			return
		}
		e.draining = true
		st := e.queue[0]
		e.queue = e.queue[1:]
		subs := make([]subscriber, len(e.subs))
		copy(subs, e.subs)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(e.key, st)
		}

		s.mu.Lock()
		e.draining = false
		s.mu.Unlock()
	}
}
