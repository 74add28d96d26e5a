package nldi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComidCache_PutGet(t *testing.T) {
	c := newComidCache(10)

	_, ok := c.get("06893000")
	assert.False(t, ok)

	c.put("06893000", 3624735)
	v, ok := c.get("06893000")
	assert.True(t, ok)
	assert.Equal(t, int64(3624735), v)
}

func TestComidCache_UpdateExisting(t *testing.T) {
	c := newComidCache(10)
	c.put("06893000", 1)
	c.put("06893000", 2)

	v, ok := c.get("06893000")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestComidCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newComidCache(2)
	c.put("a", 1)
	c.put("b", 2)

	// Touch "a" so "b" is the eviction candidate.
	_, _ = c.get("a")
	c.put("c", 3)

	_, ok := c.get("b")
	assert.False(t, ok)

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	v, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestComidCache_ZeroSizeDefaults(t *testing.T) {
	c := newComidCache(0)
	assert.Equal(t, 1000, c.maxEntries)
}
