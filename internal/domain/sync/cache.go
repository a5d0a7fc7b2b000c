package sync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const cacheMaxEntries = 10000

type cacheEntry struct {
	serverID  uuid.UUID
	expiresAt time.Time
}

// mappingCache is a bounded TTL cache in front of the mapping store. It
// only ever holds confirmed mappings (append-only data), so staleness can
// not produce wrong answers — a miss just falls through to the repository.
type mappingCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newMappingCache(ttl time.Duration) *mappingCache {
	return &mappingCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(clinicID uuid.UUID, deviceID string, entity EntityType, localID string) string {
	return clinicID.String() + "|" + deviceID + "|" + string(entity) + "|" + localID
}

func (c *mappingCache) get(key string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return uuid.Nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return uuid.Nil, false
	}
	return e.serverID, true
}

func (c *mappingCache) put(key string, serverID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= cacheMaxEntries {
		c.evictExpiredLocked()
		if len(c.entries) >= cacheMaxEntries {
			// Still full of live entries: drop the cache rather than grow
			// without bound.
			c.entries = make(map[string]cacheEntry)
		}
	}
	c.entries[key] = cacheEntry{serverID: serverID, expiresAt: time.Now().Add(c.ttl)}
}

func (c *mappingCache) evictExpiredLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
