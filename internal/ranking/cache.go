package ranking

import (
	"sync"
	"time"
)

// DefaultTTL is how long a computed leaderboard stays valid. Long enough to
// absorb a burst of events, short enough that viewers never see stale state
// for long.
const DefaultTTL = 5 * time.Second

// cacheEntry represents one computed leaderboard and its expiry time
type cacheEntry struct {
	rankings  []Entry
	expiresAt time.Time
}

// expired returns true if the entry is past its expiry time
func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Cache holds computed leaderboards keyed by competition ID, each valid
// until its expiry time. A background sweep removes stale entries so the
// map does not grow without bound across finished competitions.
type Cache struct {
	sync.Mutex

	store map[string]cacheEntry

	ttl time.Duration

	closed chan struct{}
}

// NewCache returns a running cache with entry lifetime ttl; call Close to
// stop the background sweep.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store:  make(map[string]cacheEntry),
		ttl:    ttl,
		closed: make(chan struct{}),
	}
	go c.keepClean()
	return c
}

// keepClean periodically removes expired leaderboards
func (c *Cache) keepClean() {
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(2 * c.ttl):
			c.CleanExpired()
		}
	}
}

// Get returns the cached leaderboard for a competition, or false if there is
// none or it has expired.
func (c *Cache) Get(competition string) ([]Entry, bool) {
	c.Lock()
	defer c.Unlock()
	entry, ok := c.store[competition]
	if !ok || entry.expired() {
		return nil, false
	}
	return entry.rankings, true
}

// Set stores a computed leaderboard, replacing any previous entry
func (c *Cache) Set(competition string, rankings []Entry) {
	c.Lock()
	defer c.Unlock()
	c.store[competition] = cacheEntry{
		rankings:  rankings,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes a competition's cached leaderboard; no-op if absent
func (c *Cache) Invalidate(competition string) {
	c.Lock()
	defer c.Unlock()
	delete(c.store, competition)
}

// CleanExpired removes all expired leaderboards
func (c *Cache) CleanExpired() {
	c.Lock()
	defer c.Unlock()

	stale := []string{}

	for competition, entry := range c.store {
		if entry.expired() {
			stale = append(stale, competition)
		}
	}

	for _, competition := range stale {
		delete(c.store, competition)
	}
}

// Count returns the number of cached leaderboards, expired or not
func (c *Cache) Count() int {
	c.Lock()
	defer c.Unlock()
	return len(c.store)
}

// GetTTL returns the entry lifetime
func (c *Cache) GetTTL() time.Duration {
	return c.ttl
}

// Close stops the cache's background sweep
func (c *Cache) Close() {
	close(c.closed)
}
