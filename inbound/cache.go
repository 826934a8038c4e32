package inbound

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"wa-session-supervisor/metrics"
)

// contactEntry is a resolved (or deliberately null) contact lookup. A
// null entry still occupies a cache slot so repeated duplicate/error
// lookups for the same jid are suppressed until expiresAt.
type contactEntry struct {
	contactID string
	isNull    bool
	expiresAt time.Time
}

// ContactCache is the per-session sender-identity cache: resolved once
// via /contacts/resolve, then held either for the long baseline TTL (a
// real hit) or one of the two short cooldowns (duplicate/error), with a
// hard cap of 500 entries enforced by the underlying LRU.
//
// The teacher's cache.Cache (container/list + map, hand-rolled TTL
// sweep) is replaced here by github.com/hashicorp/golang-lru/v2's
// expirable LRU, which already does the eviction bookkeeping; this
// package only adds the per-entry expiresAt check the two different
// cooldowns need, since the library applies one TTL to the whole cache.
type ContactCache struct {
	store *lru.LRU[string, contactEntry]
}

const contactCacheMaxEntries = 500

// NewContactCache builds a cache whose underlying LRU TTL is set to the
// longest of baselineTTL and the two cooldowns; baselineTTL governs a
// successful resolution that wasn't a duplicate or an error.
func NewContactCache(baselineTTL, errorCooldown, duplicateCooldown time.Duration) *ContactCache {
	outer := baselineTTL
	if errorCooldown > outer {
		outer = errorCooldown
	}
	if duplicateCooldown > outer {
		outer = duplicateCooldown
	}
	return &ContactCache{store: lru.NewLRU[string, contactEntry](contactCacheMaxEntries, nil, outer)}
}

// Get returns the cached contact id for jid. ok is false on a true
// miss or on an entry whose explicit cooldown has elapsed even though
// the library hasn't swept it yet.
func (c *ContactCache) Get(jid string) (contactID string, isNull, ok bool) {
	entry, found := c.store.Get(jid)
	if !found || time.Now().After(entry.expiresAt) {
		metrics.ContactCacheMisses.Inc()
		return "", false, false
	}
	metrics.ContactCacheHits.Inc()
	return entry.contactID, entry.isNull, true
}

// PutResolved caches a successful resolution for ttl.
func (c *ContactCache) PutResolved(jid, contactID string, ttl time.Duration) {
	c.put(jid, contactEntry{contactID: contactID, expiresAt: time.Now().Add(ttl)})
}

// PutNull caches a deliberate non-result (duplicate or error) for ttl.
func (c *ContactCache) PutNull(jid string, ttl time.Duration) {
	c.put(jid, contactEntry{isNull: true, expiresAt: time.Now().Add(ttl)})
}

func (c *ContactCache) put(jid string, entry contactEntry) {
	c.store.Add(jid, entry)
	metrics.ContactCacheSize.Set(float64(c.store.Len()))
}
