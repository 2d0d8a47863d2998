package swrcache

import (
	"fmt"

	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/internal/wire"
)

type anyCodec interface {
	encode(v any) ([]byte, error)
	decode(b []byte) (any, error)
}

type typedCodec[T any] struct{ c codec.Codec[T] }

func (t typedCodec[T]) encode(v any) ([]byte, error) {
	tv, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("swrcache: cannot retain %T", v)
	}
	return t.c.Encode(tv)
}

func (t typedCodec[T]) decode(b []byte) (any, error) {
	v, err := t.c.Decode(b)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// WithCodec lets the entry outlive eviction in the store's retention provider.
// Without a provider in Options it has no effect.
func WithCodec[T any](c codec.Codec[T]) BindOption {
	return func(b *binding) { b.codec = typedCodec[T]{c: c} }
}

func (s *Store) storageKey(key Key) string {
	return util.StorageKey("retain:"+s.ns, key.id)
}

func (s *Store) retainsLocked(e *entry) bool {
	return s.prov != nil && e.bind != nil && e.bind.codec != nil
}

// retainLocked captures what an evicted entry needs to be written to the
// provider; the write itself happens in the returned func, outside the lock.
func (s *Store) retainLocked(e *entry) func() {
	if s.closed || !s.retainsLocked(e) || e.state.Status != StatusReady {
		return nil
	}
	rec := wire.Record{Gen: s.genLocked(e.key), FetchedAt: e.state.FetchedAt, Key: e.key.id}
	data, c := e.state.Data, e.bind.codec
	sk := s.storageKey(e.key)

	// Close waits for the write before closing the provider.
	s.bg.Add(1)
	return func() {
		defer s.bg.Done()
		payload, err := c.encode(data)
		if err != nil {
			s.log.Debug("retain skipped (encode)", Fields{"key": rec.Key, "err": err})
			return
		}
		rec.Payload = payload
		raw, err := wire.Encode(rec)
		if err != nil {
			s.log.Debug("retain skipped (frame)", Fields{"key": rec.Key, "err": err})
			return
		}
		ok, err := s.prov.Set(s.ctx, sk, raw, s.cost(sk, raw), s.retainTTL)
		switch {
		case err != nil:
			s.log.Warn("retain failed", Fields{"key": rec.Key, "err": err})
		case !ok:
			s.log.Debug("retain rejected by provider (pressure)", Fields{"key": rec.Key})
		}
	}
}

// seed loads a retained value into a freshly created entry. The value shows up
// as Ready with its original fetch time, so the next subscription revalidates it.
func (s *Store) seed(e *entry, b *binding, obs uint64) {
	sk := s.storageKey(e.key)
	raw, ok, err := s.prov.Get(s.ctx, sk)
	if err != nil {
		s.log.Warn("retention read failed", Fields{"key": e.key.id, "err": err})
		return
	}
	if !ok {
		return
	}

	rec, err := wire.Decode(raw)
	if err != nil {
		s.selfHeal(sk, "corrupt")
		return
	}
	if rec.Key != e.key.id {
		// hashed storage key collided with another resource; leave its value alone
		s.hooks.RetentionSelfHeal(sk, "key_mismatch")
		return
	}
	if rec.Gen != obs {
		s.selfHeal(sk, "gen_mismatch")
		return
	}
	v, err := b.codec.decode(rec.Payload)
	if err != nil {
		s.selfHeal(sk, "value_decode")
		return
	}

	s.mu.Lock()
	if s.entries[e.key] != e || e.bind != b || s.genLocked(e.key) != obs {
		s.mu.Unlock()
		return
	}
	switch e.state.Status {
	case StatusEmpty:
		e.state = Entry{Status: StatusReady, Data: v, FetchedAt: rec.FetchedAt}
	case StatusLoading:
		if e.state.Data != nil {
			s.mu.Unlock()
			return
		}
		e.state.Data = v // shown while the revalidation runs
	default:
		s.mu.Unlock()
		return // fresher data already arrived
	}
	s.enqueueLocked(e)
	s.mu.Unlock()
	s.drain(e)
	s.log.Debug("entry seeded from retention", Fields{"key": e.key.id})
}

func (s *Store) selfHeal(storageKey, reason string) {
	_ = s.prov.Del(s.ctx, storageKey)
	s.hooks.RetentionSelfHeal(storageKey, reason)
	s.log.Debug("retained value dropped", Fields{"key": storageKey, "reason": reason})
}
