package swrcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	c "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/wire"
)

type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func bindProfile(s *Store, k Key, f func(context.Context) (profile, error)) {
	Bind(s, k, f, WithCodec[profile](c.JSON[profile]{}))
}

func retainedStore(t *testing.T, mp *memProvider) (*Store, *recHooks, *clock) {
	clk := newClock()
	s, h := newTestStore(t, func(o *Options) {
		o.Provider = mp
		o.Now = clk.Now
	})
	return s, h, clk
}

func TestRetentionSeedsRecreatedEntry(t *testing.T) {
	mp := newMemProvider()
	s, _, _ := retainedStore(t, mp)
	k := NewKey("me")
	ada := profile{ID: "1", Name: "Ada"}

	bindProfile(s, k, func(context.Context) (profile, error) { return ada, nil })
	unsub := s.Subscribe(k, func(Key, Entry) {})
	eventually(t, "ready", func() bool { return s.Get(k).Status == StatusReady })
	fetchedAt := s.Get(k).FetchedAt
	unsub()

	if !mp.has(s.storageKey(k)) {
		t.Fatal("evicted entry was not retained")
	}

	g := make(chan struct{})
	defer close(g)
	bindProfile(s, k, func(ctx context.Context) (profile, error) {
		<-g
		return profile{}, ctx.Err()
	})
	e := s.Get(k)
	if e.Status != StatusReady || !e.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("seeded entry = %+v", e)
	}
	if diff := cmp.Diff(ada, e.Data); diff != "" {
		t.Fatalf("seeded data (-want +got):\n%s", diff)
	}
}

func TestRetentionSelfHealsCorruptValue(t *testing.T) {
	mp := newMemProvider()
	s, h, _ := retainedStore(t, mp)
	k := NewKey("me")
	sk := s.storageKey(k)
	_, _ = mp.Set(context.Background(), sk, []byte("not a frame"), 0, 0)

	bindProfile(s, k, func(context.Context) (profile, error) { return profile{}, nil })

	if mp.has(sk) {
		t.Fatal("corrupt value not deleted")
	}
	if s.Get(k).Status != StatusEmpty {
		t.Fatalf("entry = %+v", s.Get(k))
	}
	_, _, _, heal := h.snapshot()
	if diff := cmp.Diff([]string{"corrupt"}, heal); diff != "" {
		t.Fatalf("self heal (-want +got):\n%s", diff)
	}
}

func TestRetentionRejectsOlderGeneration(t *testing.T) {
	mp := newMemProvider()
	s, h, clk := retainedStore(t, mp)
	k := NewKey("me")
	sk := s.storageKey(k)
	raw, err := wire.Encode(wire.Record{Gen: 0, FetchedAt: clk.Now(), Key: k.String(), Payload: []byte(`{"id":"1","name":"Ada"}`)})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = mp.Set(context.Background(), sk, raw, 0, time.Minute)
	if _, err := s.gen.Bump(context.Background(), k.String()); err != nil {
		t.Fatal(err)
	}

	bindProfile(s, k, func(context.Context) (profile, error) { return profile{}, nil })

	if mp.has(sk) {
		t.Fatal("stale generation not deleted")
	}
	_, _, _, heal := h.snapshot()
	if diff := cmp.Diff([]string{"gen_mismatch"}, heal); diff != "" {
		t.Fatalf("self heal (-want +got):\n%s", diff)
	}
}

func TestRetentionKeepsValueOfOtherKey(t *testing.T) {
	mp := newMemProvider()
	s, h, clk := retainedStore(t, mp)
	k := NewKey("me")
	sk := s.storageKey(k)
	raw, _ := wire.Encode(wire.Record{FetchedAt: clk.Now(), Key: "someone-else", Payload: []byte(`{}`)})
	_, _ = mp.Set(context.Background(), sk, raw, 0, time.Minute)

	bindProfile(s, k, func(context.Context) (profile, error) { return profile{}, nil })

	if !mp.has(sk) {
		t.Fatal("value of another key deleted")
	}
	if s.Get(k).Status != StatusEmpty {
		t.Fatalf("entry seeded from another key: %+v", s.Get(k))
	}
	_, _, _, heal := h.snapshot()
	if diff := cmp.Diff([]string{"key_mismatch"}, heal); diff != "" {
		t.Fatalf("self heal (-want +got):\n%s", diff)
	}
}

func TestClearDropsRetainedValue(t *testing.T) {
	mp := newMemProvider()
	s, _, clk := retainedStore(t, mp)
	k := NewKey("me")
	sk := s.storageKey(k)
	raw, _ := wire.Encode(wire.Record{FetchedAt: clk.Now(), Key: k.String(), Payload: []byte(`{"id":"1"}`)})
	_, _ = mp.Set(context.Background(), sk, raw, 0, time.Minute)

	bindProfile(s, k, func(context.Context) (profile, error) { return profile{}, nil })
	if !s.Get(k).HasData() {
		t.Fatal("not seeded")
	}
	s.Clear(k, nil)
	if mp.has(sk) {
		t.Fatal("retained value survived clear")
	}
}

func TestNoRetentionWithoutCodec(t *testing.T) {
	mp := newMemProvider()
	s, _, _ := retainedStore(t, mp)
	k := NewKey("me")
	s.BindFetcher(k, func(context.Context) (any, error) { return profile{ID: "1"}, nil })
	unsub := s.Subscribe(k, func(Key, Entry) {})
	eventually(t, "ready", func() bool { return s.Get(k).Status == StatusReady })
	unsub()
	if mp.has(s.storageKey(k)) {
		t.Fatal("value retained without a codec")
	}
}

// slowProvider holds Set until released and records the order of Set and Close.
type slowProvider struct {
	*memProvider
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	events []string
}

func (p *slowProvider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	close(p.started)
	<-p.release
	ok, err := p.memProvider.Set(ctx, key, value, cost, ttl)
	p.mu.Lock()
	p.events = append(p.events, "set")
	p.mu.Unlock()
	return ok, err
}

func (p *slowProvider) Close(context.Context) error {
	p.mu.Lock()
	p.events = append(p.events, "close")
	p.mu.Unlock()
	return nil
}

func TestCloseWaitsForRetentionWrite(t *testing.T) {
	sp := &slowProvider{memProvider: newMemProvider(), started: make(chan struct{}), release: make(chan struct{})}
	s, err := New(Options{Provider: sp})
	if err != nil {
		t.Fatal(err)
	}
	k := NewKey("me")
	bindProfile(s, k, func(context.Context) (profile, error) { return profile{ID: "1", Name: "Ada"}, nil })
	unsub := s.Subscribe(k, func(Key, Entry) {})
	eventually(t, "ready", func() bool { return s.Get(k).Status == StatusReady })

	go unsub()
	<-sp.started

	closed := make(chan error, 1)
	go func() { closed <- s.Close(context.Background()) }()
	select {
	case <-closed:
		t.Fatal("Close returned while a retention write was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(sp.release)
	if err := <-closed; err != nil {
		t.Fatal(err)
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if diff := cmp.Diff([]string{"set", "close"}, sp.events); diff != "" {
		t.Fatalf("provider calls (-want +got):\n%s", diff)
	}
}

func TestNoRetentionAfterClose(t *testing.T) {
	mp := newMemProvider()
	s, _, _ := retainedStore(t, mp)
	k := NewKey("me")
	bindProfile(s, k, func(context.Context) (profile, error) { return profile{ID: "1"}, nil })
	unsub := s.Subscribe(k, func(Key, Entry) {})
	eventually(t, "ready", func() bool { return s.Get(k).Status == StatusReady })

	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	unsub()
	if mp.has(s.storageKey(k)) {
		t.Fatal("value retained after Close")
	}
}
