package filtering

import (
	"context"
	"strconv"
	"time"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
)

// Counter is a TTL-bounded per-address integer counter, used for both the
// call-rate and bad-request counters, grounded on the original
// ipcounter.py / the teacher's expiryMap hit-counting idiom.
type Counter struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
}

// NewCounter builds a Counter namespaced by prefix (e.g. "counter" or
// "brcounter").
func NewCounter(c cache.Cache, prefix string, ttl time.Duration) *Counter {
	return &Counter{cache: c, prefix: prefix, ttl: ttl}
}

func (c *Counter) key(addr string) string { return c.prefix + ":" + addr }

// Increment bumps addr's counter and returns the new value. When Incr
// reports the key absent (fresh or ttl-expired), the counter is
// (re)created at 1 rather than propagating the miss.
func (c *Counter) Increment(ctx context.Context, addr string) (int64, error) {
	n, found, err := c.cache.Incr(ctx, c.key(addr))
	if err != nil {
		return 0, err
	}
	if found {
		return n, nil
	}

	if _, err := c.cache.Set(ctx, c.key(addr), []byte("1"), c.ttl); err != nil {
		return 0, err
	}
	return 1, nil
}

// Count returns addr's current value, or 0 if absent.
func (c *Counter) Count(ctx context.Context, addr string) (int64, error) {
	raw, found, err := c.cache.Get(ctx, c.key(addr))
	if err != nil || !found {
		return 0, err
	}
	n, convErr := strconv.ParseInt(string(raw), 10, 64)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

// Reset clears addr's counter, used by the administrative unblock action.
func (c *Counter) Reset(ctx context.Context, addr string) error {
	_, err := c.cache.Delete(ctx, c.key(addr))
	return err
}
