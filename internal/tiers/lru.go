// Package tiers implements the Skill/Tool Tier Resolver: Tier 0
// (always-on) / Tier 1 (pattern-matched, capped) / Tier 2 (on-demand
// catalog) partitioning with usage-driven promotion/demotion feedback and
// an LRU-memoized fingerprint lookup. The LRU cache is adapted directly
// from the teacher pack's itsneelabh-gomind pkg/routing/cache.go
// LRUCache — same doubly-linked-list + map shape, move-to-front on Get,
// tail eviction on overflow — retargeted from caching *RoutingPlan values
// to caching resolved tier sets keyed by a prompt-keyword fingerprint.
package tiers

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

type lruItem struct {
	key    string
	result Resolution
	prev   *lruItem
	next   *lruItem
}

// lruCache is a fixed-capacity LRU cache of resolved tier sets.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruItem
	head     *lruItem
	tail     *lruItem
	hits     int64
	misses   int64
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &lruCache{capacity: capacity, items: make(map[string]*lruItem)}
}

// fingerprint produces a stable SHA-256 hash of a prompt's sorted,
// lowercased keyword set, so word order and casing don't fragment the
// cache.
func fingerprint(keywords []string) string {
	sorted := append([]string(nil), keywords...)
	for i, k := range sorted {
		sorted[i] = strings.ToLower(strings.TrimSpace(k))
	}
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (c *lruCache) get(keywords []string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := fingerprint(keywords)
	item, ok := c.items[key]
	if !ok {
		c.misses++
		return Resolution{}, false
	}
	c.hits++
	c.moveToFront(item)
	return item.result, true
}

func (c *lruCache) set(keywords []string, result Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := fingerprint(keywords)
	if item, ok := c.items[key]; ok {
		item.result = result
		c.moveToFront(item)
		return
	}

	if len(c.items) >= c.capacity {
		c.removeLRU()
	}

	item := &lruItem{key: key, result: result}
	c.items[key] = item
	c.addToFront(item)
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruItem)
	c.head, c.tail = nil, nil
}

func (c *lruCache) hitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *lruCache) moveToFront(item *lruItem) {
	if item == c.head {
		return
	}
	c.removeFromList(item)
	c.addToFront(item)
}

func (c *lruCache) addToFront(item *lruItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *lruCache) removeFromList(item *lruItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
}

func (c *lruCache) removeItem(item *lruItem) {
	c.removeFromList(item)
	delete(c.items, item.key)
}

func (c *lruCache) removeLRU() {
	if c.tail != nil {
		c.removeItem(c.tail)
	}
}
