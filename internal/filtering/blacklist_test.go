package filtering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
)

func TestBlacklistAddContainsRemove(t *testing.T) {
	ctx := context.Background()
	bl := NewBlacklist(cache.NewMemory())

	ok, err := bl.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bl.Add(ctx, "1.2.3.4", time.Hour))

	ok, err = bl.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := bl.Members(ctx)
	require.NoError(t, err)
	assert.Contains(t, members, "1.2.3.4")

	require.NoError(t, bl.Remove(ctx, "1.2.3.4"))

	ok, err = bl.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlacklistUnblockUnknownIsNoOp(t *testing.T) {
	ctx := context.Background()
	bl := NewBlacklist(cache.NewMemory())
	assert.NoError(t, bl.Remove(ctx, "9.9.9.9"))
}

func TestCounterIncrementAndReset(t *testing.T) {
	ctx := context.Background()
	c := NewCounter(cache.NewMemory(), "counter", time.Minute)

	n, err := c.Increment(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = c.Increment(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, c.Reset(ctx, "1.1.1.1"))

	n, err = c.Count(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestWhitelistCIDRAndHost(t *testing.T) {
	w, err := NewWhitelist([]string{"10.0.0.0/8", "203.0.113.5"})
	require.NoError(t, err)

	assert.True(t, w.Contains("10.1.2.3"))
	assert.True(t, w.Contains("203.0.113.5"))
	assert.False(t, w.Contains("8.8.8.8"))
	assert.False(t, w.Contains("not-an-ip"))
}
