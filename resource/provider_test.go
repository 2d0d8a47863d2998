package resource

import (
	"context"
	"sync"
	"time"
)

// retainProvider is a map-backed provider.Provider.
type retainProvider struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newRetainProvider() *retainProvider { return &retainProvider{m: make(map[string][]byte)} }

func (p *retainProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *retainProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = value
	return true, nil
}

func (p *retainProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *retainProvider) Close(context.Context) error { return nil }
