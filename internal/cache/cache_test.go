package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLGetSetInvalidate(t *testing.T) {
	c := New[*int]("test", 10, time.Hour)

	_, ok := c.Get("a")
	assert.False(t, ok)

	v := 42
	c.Set("a", &v)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 42, *got)

	// Absent values are cacheable.
	c.Set("nil", nil)
	got, ok = c.Get("nil")
	assert.True(t, ok)
	assert.Nil(t, got)

	assert.True(t, c.Invalidate("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.Invalidate("a"))
}

func TestTTLExpiry(t *testing.T) {
	c := New[string]("test", 10, 20*time.Millisecond)
	c.Set("k", "v")

	_, ok := c.Get("k")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTTLEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int]("test", 2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}
