// Package cache implements the hot-tier store: per-key field maps with a
// TTL clock plus score-ordered member indexes with rank trimming. It is
// process-local; the durable store remains the source of truth and every
// reader must define a fallback path.
package cache

import (
	"sort"
	"sync"
	"time"
)

type hashEntry struct {
	fields   map[string]string
	expireAt time.Time // zero means no expiry
}

type scoredMember struct {
	member string
	score  int64
}

// Cache is a mutex-guarded two-structure store: hashes carry the TTL
// clock, sorted indexes live until trimmed.
type Cache struct {
	mu     sync.Mutex
	hashes map[string]*hashEntry
	zsets  map[string][]scoredMember
	now    func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		hashes: make(map[string]*hashEntry),
		zsets:  make(map[string][]scoredMember),
		now:    time.Now,
	}
}

// SetClock overrides the cache's notion of time. Used by tests to drive
// TTL expiry deterministically.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// HSet merges fields into the entry at key, creating it if absent. An
// existing entry keeps its TTL; a new entry has none until Expire is
// called.
func (c *Cache) HSet(key string, fields map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveHash(key)
	if entry == nil {
		entry = &hashEntry{fields: make(map[string]string, len(fields))}
		c.hashes[key] = entry
	}
	for k, v := range fields {
		entry.fields[k] = v
	}
}

// HSetIfExists merges fields into the entry at key only if the entry is
// still live, keeping its TTL. The liveness check and the merge happen
// under one lock hold, so an entry expiring concurrently cannot be
// recreated as a partial, TTL-less field map. Returns false when the key
// is absent or expired.
func (c *Cache) HSetIfExists(key string, fields map[string]string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveHash(key)
	if entry == nil {
		return false
	}
	for k, v := range fields {
		entry.fields[k] = v
	}
	return true
}

// HGetAll returns a copy of the field map at key. The second return is
// false when the key is absent or its TTL has elapsed.
func (c *Cache) HGetAll(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveHash(key)
	if entry == nil {
		return nil, false
	}
	out := make(map[string]string, len(entry.fields))
	for k, v := range entry.fields {
		out[k] = v
	}
	return out, true
}

// Expire sets the TTL for the hash at key. Returns false if the key does
// not exist.
func (c *Cache) Expire(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveHash(key)
	if entry == nil {
		return false
	}
	entry.expireAt = c.now().Add(ttl)
	return true
}

// Exists reports whether key is present as a live hash or a sorted index.
func (c *Cache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveHash(key) != nil {
		return true
	}
	_, ok := c.zsets[key]
	return ok
}

// ZAdd inserts member into the sorted index at key with the given score,
// updating the score if the member is already present. Ties on score are
// ordered by member, which keeps same-millisecond messages stable because
// message ids embed their timestamp.
func (c *Cache) ZAdd(key string, score int64, member string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.zsets[key]
	for i := range set {
		if set[i].member == member {
			set[i].score = score
			sortMembers(set)
			c.zsets[key] = set
			return
		}
	}
	set = append(set, scoredMember{member: member, score: score})
	sortMembers(set)
	c.zsets[key] = set
}

// ZRange returns the members of the sorted index between the start and
// stop ranks inclusive, ascending by score. Negative ranks count from the
// end, as in ZRange(key, 0, -1) for the full index.
func (c *Cache) ZRange(key string, start, stop int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.zsets[key]
	lo, hi, ok := resolveRange(len(set), start, stop)
	if !ok {
		return nil
	}
	out := make([]string, 0, hi-lo+1)
	for _, m := range set[lo : hi+1] {
		out = append(out, m.member)
	}
	return out
}

// ZRemRangeByRank removes the members between the start and stop ranks
// inclusive and returns how many were removed. The write path calls
// ZRemRangeByRank(key, 0, -(cap+1)) after every insert, which bounds the
// index to the newest cap entries regardless of traffic.
func (c *Cache) ZRemRangeByRank(key string, start, stop int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.zsets[key]
	lo, hi, ok := resolveRange(len(set), start, stop)
	if !ok {
		return 0
	}
	removed := hi - lo + 1
	set = append(set[:lo], set[hi+1:]...)
	if len(set) == 0 {
		delete(c.zsets, key)
	} else {
		c.zsets[key] = set
	}
	return removed
}

// ZCard returns the number of members in the sorted index at key.
func (c *Cache) ZCard(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.zsets[key])
}

// liveHash returns the hash at key, evicting it first if its TTL has
// elapsed. Callers must hold c.mu.
func (c *Cache) liveHash(key string) *hashEntry {
	entry, ok := c.hashes[key]
	if !ok {
		return nil
	}
	if !entry.expireAt.IsZero() && !c.now().Before(entry.expireAt) {
		delete(c.hashes, key)
		return nil
	}
	return entry
}

func sortMembers(set []scoredMember) {
	sort.Slice(set, func(i, j int) bool {
		if set[i].score != set[j].score {
			return set[i].score < set[j].score
		}
		return set[i].member < set[j].member
	})
}

// resolveRange maps possibly-negative start/stop ranks onto [lo, hi]
// slice bounds. ok is false when the range is empty.
func resolveRange(n, start, stop int) (lo, hi int, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	lo, hi = start, stop
	if lo < 0 {
		lo += n
	}
	if hi < 0 {
		hi += n
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if lo > hi || lo >= n || hi < 0 {
		return 0, 0, false
	}
	return lo, hi, true
}
