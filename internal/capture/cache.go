package capture

import "sync"

// Entry is a captured response body.
type Entry struct {
	Data        []byte
	ContentType string
}

// Cache is a page-scoped, append-only map from response URL to body.
// It is written by the network subscription and read by image resolution.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Store records a body for url. Empty bodies and already-captured URLs are
// ignored; the return value reports whether the entry was added.
func (c *Cache) Store(url string, e Entry) bool {
	if url == "" || len(e.Data) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[url]; exists {
		return false
	}
	c.entries[url] = e
	return true
}

// Lookup returns the body captured for the exact url.
func (c *Cache) Lookup(url string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e, ok
}

// Len returns the number of captured responses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every captured body.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}
