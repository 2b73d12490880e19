// Package cache remembers which items were already reported. Entries map
// an item fingerprint to the last time it was seen and are persisted to a
// SQLite file between runs.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TobiSchelling/feedsweep/internal/feed"
)

// LoadError reports an unreadable cache file. Load still returns a usable
// empty cache alongside it.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading cache %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PersistError reports a failed save. The next run would re-report every
// item, so callers treat it as fatal.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("saving cache %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Entry is what the cache knows about one fingerprint.
type Entry struct {
	LastSeen time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[feed.Fingerprint]Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[feed.Fingerprint]Entry)}
}

// IsKnown reports whether fp has been seen.
func (c *Cache) IsKnown(fp feed.Fingerprint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[fp]
	return ok
}

// Get returns the entry for fp.
func (c *Cache) Get(fp feed.Fingerprint) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fp]
	return e, ok
}

// MarkSeen records fp as seen at t. A timestamp never moves backwards.
func (c *Cache) MarkSeen(fp feed.Fingerprint, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok && !t.After(e.LastSeen) {
		return
	}
	c.entries[fp] = Entry{LastSeen: t}
}

// HorizonFunc returns the cache horizon for a feed URL, or false when the
// feed's entries never expire.
type HorizonFunc func(feedURL string) (time.Duration, bool)

// PruneOlderThan removes entries whose age at now exceeds their feed's
// horizon and returns how many were removed.
func (c *Cache) PruneOlderThan(horizon HorizonFunc, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		max, limited := horizon(fp.FeedURL)
		if !limited {
			continue
		}
		if now.Sub(e.LastSeen) > max {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FeedStats summarizes one feed's entries.
type FeedStats struct {
	FeedURL string
	Entries int
	Oldest  time.Time
	Newest  time.Time
}

// Stats returns per-feed entry counts, sorted by feed URL.
func (c *Cache) Stats() []FeedStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byFeed := make(map[string]*FeedStats)
	for fp, e := range c.entries {
		s, ok := byFeed[fp.FeedURL]
		if !ok {
			s = &FeedStats{FeedURL: fp.FeedURL, Oldest: e.LastSeen, Newest: e.LastSeen}
			byFeed[fp.FeedURL] = s
		}
		s.Entries++
		if e.LastSeen.Before(s.Oldest) {
			s.Oldest = e.LastSeen
		}
		if e.LastSeen.After(s.Newest) {
			s.Newest = e.LastSeen
		}
	}

	out := make([]FeedStats, 0, len(byFeed))
	for _, s := range byFeed {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedURL < out[j].FeedURL })
	return out
}

// snapshot copies the entries for saving without holding the lock during IO.
func (c *Cache) snapshot() map[feed.Fingerprint]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[feed.Fingerprint]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
