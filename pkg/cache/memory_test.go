package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	require.NoError(t, mc.Set(ctx, "snapshot:a", entry{Name: "a", Value: 1.5}, time.Minute))
	require.NoError(t, mc.Set(ctx, "raw", "plain", time.Minute))

	var got entry
	require.NoError(t, mc.Get(ctx, "snapshot:a", &got))
	assert.Equal(t, entry{Name: "a", Value: 1.5}, got)

	var s string
	require.NoError(t, mc.Get(ctx, "raw", &s))
	assert.Equal(t, "plain", s)

	assert.ErrorIs(t, mc.Get(ctx, "absent", &got), ErrCacheMiss)
}

func TestMemoryCache_StoresCopies(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	v := entry{Name: "before"}
	require.NoError(t, mc.Set(ctx, "k", &v, 0))
	v.Name = "after"

	var got entry
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, "before", got.Name)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	for _, k := range []string{"snapshot:1", "snapshot:2", "cp:1"} {
		require.NoError(t, mc.Set(ctx, k, "x", time.Minute))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, "snapshot:*"))

	ok, _ := mc.Exists(ctx, "snapshot:1", "snapshot:2")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "cp:1")
	assert.True(t, ok)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	t.Cleanup(func() { _ = mc.Close() })

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	time.Sleep(time.Millisecond)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
}

func TestMemoryCache_TryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	ok, err := mc.TryLock(ctx, "lease:x", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lease:x", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lease:x"))
	ok, _ = mc.TryLock(ctx, "lease:x", time.Minute)
	assert.True(t, ok)
}
