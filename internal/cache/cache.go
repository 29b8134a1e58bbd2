// Package cache provides the bounded, TTL-driven caches named in
// spec §3 (DeployerCache, AthCache, MetadataCache, SocialProfileCache,
// SocialCommunityCache, UnitPriceCache). All five are backed by
// github.com/patrickmn/go-cache, whose per-item expiry and background
// janitor sweep match the "stale entries may be overwritten without
// locking" / "treated as a miss once past TTL" semantics of §3
// Invariant 3 directly — no custom TTL bookkeeping is needed.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache is a type-safe facade over gocache.Cache for a single
// value type T. Reads of an expired or absent key are a miss; writes
// are last-writer-wins single-entry updates, per §5's "smallest
// possible critical section" rule (go-cache takes its own lock per
// call, so callers never hold a lock across a network suspension
// point).
type TTLCache[T any] struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewTTLCache creates a cache whose entries expire after ttl. A
// cleanup sweep runs at 2*ttl, matching go-cache's recommended
// janitor cadence.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{c: gocache.New(ttl, 2*ttl), ttl: ttl}
}

// Get returns the cached value and whether it was present and fresh.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key with the cache's configured TTL.
func (c *TTLCache[T]) Set(key string, value T) {
	c.c.Set(key, value, gocache.DefaultExpiration)
}

// Age returns how long the entry under key has been cached, when
// present. Used by callers that expose a cache_age field.
func (c *TTLCache[T]) Age(key string) (time.Duration, bool) {
	item, ok := c.c.Items()[key]
	if !ok {
		return 0, false
	}
	if item.Expiration == 0 {
		return 0, false
	}
	expiresAt := time.Unix(0, item.Expiration)
	return c.ttl - time.Until(expiresAt), true
}

// UncappedCache is for SocialProfileCache / SocialCommunityCache:
// §3 gives them no TTL but asks for a cap. Entries never expire on
// their own; MaxEntries is enforced on write by evicting an arbitrary
// existing entry once the cap is reached (go-cache does not track
// insertion order, so this is a best-effort cap rather than strict
// LRU — acceptable for a process-local memoisation cache that only
// ever grows back from the same upstream calls).
type UncappedCache[T any] struct {
	c          *gocache.Cache
	maxEntries int
}

// NewUncappedCache creates a no-expiration cache capped at maxEntries.
func NewUncappedCache[T any](maxEntries int) *UncappedCache[T] {
	return &UncappedCache[T]{
		c:          gocache.New(gocache.NoExpiration, 0),
		maxEntries: maxEntries,
	}
}

// Get returns the cached value and whether it was present.
func (c *UncappedCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key, evicting one arbitrary entry first if
// the cache is already at capacity and key is new.
func (c *UncappedCache[T]) Set(key string, value T) {
	if _, exists := c.c.Get(key); !exists && c.c.ItemCount() >= c.maxEntries {
		for k := range c.c.Items() {
			c.c.Delete(k)
			break
		}
	}
	c.c.Set(key, value, gocache.NoExpiration)
}

// Len reports the number of cached entries, used by the cap tests.
func (c *UncappedCache[T]) Len() int { return c.c.ItemCount() }
