package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// entry mirrors the teacher's expiryHits record: a value plus an absolute
// expiry time, lazily checked on read rather than actively swept.
type entry struct {
	value []byte
	// expires is the absolute unix time after which the entry is considered
	// gone. Zero means "never expires".
	expires int64
	// token changes on every write; Gets/CAS compare against it.
	token int64
}

func (e *entry) expired(now int64) bool {
	return e.expires != 0 && e.expires < now
}

// Memory is the in-process fallback used when no remote cache is
// configured (keyexchange.use_memory / filtering.use_memory) and in tests.
// It keeps the teacher's pattern of one mutex guarding a plain map, with
// lazy TTL checks on access instead of an active sweep.
type Memory struct {
	mu   sync.Mutex
	data map[string]*entry
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*entry)}
}

func (m *Memory) now() int64 { return time.Now().UTC().Unix() }

func (m *Memory) expiryOf(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return m.now() + int64(ttl/time.Second)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok || e.expired(m.now()) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok && !e.expired(m.now()) {
		return false, nil
	}
	m.data[key] = &entry{value: clone(value), expires: m.expiryOf(ttl)}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.data[key]
	tok := int64(0)
	if prev != nil {
		tok = prev.token + 1
	}
	m.data[key] = &entry{value: clone(value), expires: m.expiryOf(ttl), token: tok}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return true, nil
}

// Incr mirrors the original ipcounter's reliance on the back-end returning
// "absent" for a missing key, leaving the create-with-1 fallback to the
// caller (see filtering.Counter.Increment).
func (m *Memory) Incr(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok || e.expired(m.now()) {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, false, nil
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	e.token++
	return n, true, nil
}

func (m *Memory) Gets(_ context.Context, key string) ([]byte, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok || e.expired(m.now()) {
		return nil, "", false, nil
	}
	return clone(e.value), strconv.FormatInt(e.token, 10), true, nil
}

func (m *Memory) CAS(_ context.Context, key string, value []byte, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	cur := ""
	if ok && !e.expired(m.now()) {
		cur = strconv.FormatInt(e.token, 10)
	}
	if cur != token {
		return ErrCASConflict
	}
	tok := int64(0)
	if ok {
		tok = e.token + 1
	}
	m.data[key] = &entry{value: clone(value), expires: m.expiryOf(ttl), token: tok}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
