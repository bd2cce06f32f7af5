package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTLCache[int]()
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("b")
	assert.True(t, ok, "zero ttl never expires")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Zero(t, c.Len())
}
