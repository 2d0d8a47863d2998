package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FetchEvery    uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	// Keys carry query params (search phrases), so they are not logged verbatim.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	fetchCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(key string) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("swrcache.fetch_started", "key", h.redact(key))
}

func (h *Hooks) FetchSettled(key string, took time.Duration, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("swrcache.fetch_failed",
			"key", h.redact(key),
			"took", took,
			"err", err)
		return
	}
	h.l.Debug("swrcache.fetch_settled",
		"key", h.redact(key),
		"took", took)
}

func (h *Hooks) FetchDropped(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.fetch_dropped",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) MutationRolledBack(key, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.mutation_rolled_back",
		"key", h.redact(key),
		"op", op,
		"err", err)
}

func (h *Hooks) MutationReconciled(key, op string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.mutation_reconciled",
		"key", h.redact(key),
		"op", op)
}

func (h *Hooks) Evicted(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.evicted", "key", h.redact(key))
}

func (h *Hooks) RetentionSelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("swrcache.retention_self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) GenError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.gen_error",
		"key", h.redact(key),
		"err", err)
}
