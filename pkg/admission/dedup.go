// Package admission gates events before any reasoning happens:
// deduplication by canonical fingerprint, per-type cooldowns, and
// time-of-day session windows.
package admission

import (
	"container/list"
	"sync"
	"time"

	"github.com/crestline/advisor/pkg/canonical"
	"github.com/crestline/advisor/pkg/contracts"
)

// Dedup defaults.
const (
	DefaultDedupTTL        = 60 * time.Second
	DefaultDedupMaxEntries = 100_000
)

// DedupCache rejects repeat events within a TTL window by fingerprint.
// The cache is bounded: when full, the oldest entry is evicted first.
type DedupCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest
	ttl     time.Duration
	max     int
	clock   func() time.Time
}

type dedupEntry struct {
	fingerprint string
	expiresAt   time.Time
}

// NewDedupCache creates a dedup cache. Zero values fall back to the
// package defaults.
func NewDedupCache(ttl time.Duration, maxEntries int) *DedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultDedupMaxEntries
	}
	return &DedupCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		max:     maxEntries,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *DedupCache) WithClock(clock func() time.Time) *DedupCache {
	c.clock = clock
	return c
}

// CheckAndRecord computes the event fingerprint and records it. It
// returns true when the fingerprint was already present (a duplicate).
// The fingerprint is inserted at admission time, so a repeat arriving
// while the first event is still mid-pipeline is also rejected.
func (c *DedupCache) CheckAndRecord(ev *contracts.Event) (duplicate bool, err error) {
	fp, err := canonical.Fingerprint(ev.CorrelationID, ev.Symbol, ev.Signal)
	if err != nil {
		return false, err
	}

	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired(now)

	if el, ok := c.entries[fp]; ok {
		if el.Value.(*dedupEntry).expiresAt.After(now) {
			return true, nil
		}
		// Stale entry for the same fingerprint: refresh below.
		c.remove(el)
	}

	for len(c.entries) >= c.max {
		c.remove(c.order.Front())
	}
	el := c.order.PushBack(&dedupEntry{fingerprint: fp, expiresAt: now.Add(c.ttl)})
	c.entries[fp] = el
	return false, nil
}

// Len returns the current entry count.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DedupCache) evictExpired(now time.Time) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*dedupEntry).expiresAt.After(now) {
			break // entries are in insertion order; TTL is uniform
		}
		c.remove(el)
		el = next
	}
}

func (c *DedupCache) remove(el *list.Element) {
	if el == nil {
		return
	}
	delete(c.entries, el.Value.(*dedupEntry).fingerprint)
	c.order.Remove(el)
}
