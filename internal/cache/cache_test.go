package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := NewTTLCache[int](50 * time.Millisecond)
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", 42)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestTTLCache_ExpiresAfterTTL(t *testing.T) {
	c := NewTTLCache[string](20 * time.Millisecond)
	c.Set("k", "v")

	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestUncappedCache_EvictsAtCapacity(t *testing.T) {
	c := NewUncappedCache[int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Len())

	c.Set("c", 3)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestUncappedCache_UpdatingExistingKeyDoesNotEvict(t *testing.T) {
	c := NewUncappedCache[int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 99)

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 99, v)
}
