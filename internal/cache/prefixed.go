package cache

import (
	"context"
	"time"
)

// Prefixed namespaces every key with a fixed string so the channel store and
// the filter store can share one back-end without key collisions.
type Prefixed struct {
	inner  Cache
	prefix string
}

// NewPrefixed wraps inner, prepending prefix to every key it sees.
func NewPrefixed(inner Cache, prefix string) *Prefixed {
	return &Prefixed{inner: inner, prefix: prefix}
}

func (p *Prefixed) key(k string) string { return p.prefix + k }

func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.inner.Get(ctx, p.key(key))
}

func (p *Prefixed) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.inner.Add(ctx, p.key(key), value, ttl)
}

func (p *Prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.inner.Set(ctx, p.key(key), value, ttl)
}

func (p *Prefixed) Delete(ctx context.Context, key string) (bool, error) {
	return p.inner.Delete(ctx, p.key(key))
}

func (p *Prefixed) Incr(ctx context.Context, key string) (int64, bool, error) {
	return p.inner.Incr(ctx, p.key(key))
}

func (p *Prefixed) Gets(ctx context.Context, key string) ([]byte, string, bool, error) {
	return p.inner.Gets(ctx, p.key(key))
}

func (p *Prefixed) CAS(ctx context.Context, key string, value []byte, token string, ttl time.Duration) error {
	return p.inner.CAS(ctx, p.key(key), value, token, ttl)
}
