package swrcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/swrcache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

// recHooks records the events tests assert on.
type recHooks struct {
	NopHooks
	mu         sync.Mutex
	dropped    []string
	rolledBack []string
	evicted    []string
	selfHeal   []string
}

func (h *recHooks) FetchDropped(_, reason string) {
	h.mu.Lock()
	h.dropped = append(h.dropped, reason)
	h.mu.Unlock()
}

func (h *recHooks) MutationRolledBack(_, op string, _ error) {
	h.mu.Lock()
	h.rolledBack = append(h.rolledBack, op)
	h.mu.Unlock()
}

func (h *recHooks) Evicted(key string) {
	h.mu.Lock()
	h.evicted = append(h.evicted, key)
	h.mu.Unlock()
}

func (h *recHooks) RetentionSelfHeal(_, reason string) {
	h.mu.Lock()
	h.selfHeal = append(h.selfHeal, reason)
	h.mu.Unlock()
}

func (h *recHooks) snapshot() (dropped, rolledBack, evicted, selfHeal []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := func(s []string) []string { return append([]string(nil), s...) }
	return cp(h.dropped), cp(h.rolledBack), cp(h.evicted), cp(h.selfHeal)
}

// recorder collects every state a listener receives.
type recorder struct {
	mu  sync.Mutex
	got []Entry
}

func (r *recorder) listen(_ Key, e Entry) {
	r.mu.Lock()
	r.got = append(r.got, e)
	r.mu.Unlock()
}

func (r *recorder) entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.got...)
}

func (r *recorder) statuses() []Status {
	var out []Status
	for _, e := range r.entries() {
		out = append(out, e.Status)
	}
	return out
}

// gatedFetcher blocks every call until release and counts calls.
type gatedFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
	val   any
	err   error
}

func newGated(val any, err error) *gatedFetcher {
	return &gatedFetcher{gate: make(chan struct{}), val: val, err: err}
}

func (g *gatedFetcher) fetch(ctx context.Context) (any, error) {
	g.calls.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.val, g.err
}

func (g *gatedFetcher) release() { close(g.gate) }

func newTestStore(t *testing.T, optsOpt func(*Options)) (*Store, *recHooks) {
	t.Helper()
	h := &recHooks{}
	opts := Options{Namespace: "test", Hooks: h}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
