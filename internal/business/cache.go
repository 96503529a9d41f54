package business

import "sync"

type cacheKey struct {
	generation uint64
	text       string
}

// resultCache is a bounded FIFO cache of resolutions. A nil result
// records a miss.
type resultCache struct {
	mu      sync.RWMutex
	size    int
	entries map[cacheKey]*MatchResult
	order   []cacheKey
	next    int
}

func newResultCache(size int) *resultCache {
	return &resultCache{
		size:    size,
		entries: make(map[cacheKey]*MatchResult, size),
		order:   make([]cacheKey, 0, size),
	}
}

func (c *resultCache) get(k cacheKey) (*MatchResult, bool) {
	if c.size <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[k]
	return res, ok
}

func (c *resultCache) put(k cacheKey, res *MatchResult) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; ok {
		c.entries[k] = res
		return
	}
	if len(c.order) < c.size {
		c.order = append(c.order, k)
	} else {
		delete(c.entries, c.order[c.next])
		c.order[c.next] = k
		c.next = (c.next + 1) % c.size
	}
	c.entries[k] = res
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*MatchResult, c.size)
	c.order = c.order[:0]
	c.next = 0
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
