package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashSetGet(t *testing.T) {
	c := New()

	c.HSet("k1", map[string]string{"a": "1", "b": "2"})
	fields, ok := c.HGetAll("k1")
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, fields)

	// Merge keeps unrelated fields.
	c.HSet("k1", map[string]string{"b": "3"})
	fields, _ = c.HGetAll("k1")
	assert.Equal(t, "1", fields["a"])
	assert.Equal(t, "3", fields["b"])

	_, ok = c.HGetAll("missing")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	c.HSet("k1", map[string]string{"a": "1"})
	assert.True(t, c.Expire("k1", time.Minute))
	assert.True(t, c.Exists("k1"))

	now = now.Add(time.Minute + time.Second)
	assert.False(t, c.Exists("k1"))
	_, ok := c.HGetAll("k1")
	assert.False(t, ok)

	// Expired keys must not be resurrected by Expire.
	assert.False(t, c.Expire("k1", time.Minute))
}

func TestHSetAfterExpiryStartsFresh(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	c.HSet("k1", map[string]string{"a": "1"})
	c.Expire("k1", time.Minute)
	now = now.Add(2 * time.Minute)

	c.HSet("k1", map[string]string{"b": "2"})
	fields, ok := c.HGetAll("k1")
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"b": "2"}, fields)
}

func TestHSetIfExists(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	c.HSet("k1", map[string]string{"a": "1", "b": "2"})
	c.Expire("k1", time.Minute)

	// Live entry: fields merge, TTL stays in place.
	assert.True(t, c.HSetIfExists("k1", map[string]string{"b": "3"}))
	fields, _ := c.HGetAll("k1")
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, fields)

	now = now.Add(time.Minute + time.Second)
	assert.False(t, c.Exists("k1"))

	// A conditional update that loses the race with expiry must not
	// recreate the key as a partial, TTL-less field map.
	assert.False(t, c.HSetIfExists("k1", map[string]string{"b": "4"}))
	_, ok := c.HGetAll("k1")
	assert.False(t, ok)
}

func TestSortedIndexOrdering(t *testing.T) {
	c := New()

	c.ZAdd("idx", 30, "m3")
	c.ZAdd("idx", 10, "m1")
	c.ZAdd("idx", 20, "m2")

	assert.Equal(t, []string{"m1", "m2", "m3"}, c.ZRange("idx", 0, -1))
	assert.Equal(t, []string{"m2", "m3"}, c.ZRange("idx", 1, -1))
	assert.Equal(t, []string{"m3"}, c.ZRange("idx", -1, -1))
	assert.Nil(t, c.ZRange("missing", 0, -1))

	// Re-adding a member moves it rather than duplicating it.
	c.ZAdd("idx", 40, "m1")
	assert.Equal(t, []string{"m2", "m3", "m1"}, c.ZRange("idx", 0, -1))
	assert.Equal(t, 3, c.ZCard("idx"))
}

func TestTrimKeepsNewest(t *testing.T) {
	const cap = 200
	c := New()

	for i := 0; i < 205; i++ {
		c.ZAdd("idx", int64(i), fmt.Sprintf("m%03d", i))
		c.ZRemRangeByRank("idx", 0, -(cap + 1))
	}

	members := c.ZRange("idx", 0, -1)
	assert.Len(t, members, cap)
	assert.Equal(t, "m005", members[0])
	assert.Equal(t, "m204", members[len(members)-1])
}

func TestRemRangeNoop(t *testing.T) {
	c := New()
	c.ZAdd("idx", 1, "m1")

	// Under-capacity trim removes nothing.
	assert.Equal(t, 0, c.ZRemRangeByRank("idx", 0, -201))
	assert.Equal(t, 1, c.ZCard("idx"))

	assert.Equal(t, 1, c.ZRemRangeByRank("idx", 0, 0))
	assert.Equal(t, 0, c.ZCard("idx"))
	assert.False(t, c.Exists("idx"))
}
