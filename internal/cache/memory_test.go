package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAddIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.Add(ctx, "k", []byte("v1"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Add(ctx, "k", []byte("v2"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", string(v))
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	require.NoError(t, err)

	m.data["k"].expires = m.now() - 1

	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryIncrAbsentReturnsFalse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, found, err := m.Incr(ctx, "counter:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = m.Set(ctx, "counter:1.2.3.4", []byte("1"), time.Minute)
	require.NoError(t, err)

	n, found, err := m.Incr(ctx, "counter:1.2.3.4")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, n)
}

func TestMemoryGetsCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Set(ctx, "blacklist", []byte("a,b"), 0)
	require.NoError(t, err)

	_, token, found, err := m.Gets(ctx, "blacklist")
	require.NoError(t, err)
	require.True(t, found)

	err = m.CAS(ctx, "blacklist", []byte("a,b,c"), token, 0)
	require.NoError(t, err)

	err = m.CAS(ctx, "blacklist", []byte("a,b,c,d"), token, 0)
	assert.ErrorIs(t, err, ErrCASConflict)

	v, _, _, err := m.Gets(ctx, "blacklist")
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", string(v))
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrefixedNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	p := NewPrefixed(inner, "keyexchange:")

	_, err := p.Set(ctx, "AbC1", []byte("{}"), 0)
	require.NoError(t, err)

	_, found, err := inner.Get(ctx, "AbC1")
	require.NoError(t, err)
	assert.False(t, found)

	v, found, err := inner.Get(ctx, "keyexchange:AbC1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "{}", string(v))
}
