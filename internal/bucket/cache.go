package bucket

import (
	"strings"
	"sync"

	"github.com/inkwell-ai/inkwell/internal/rag"
)

// indexCache is the get-or-create cache of retrieval index handles, keyed by
// project/bucket. It guarantees exactly one authoritative handle per key for
// the process lifetime: concurrent first users of the same bucket share a
// single materialization, the loser's duplicate attempt never happens. The
// retention policy is keep-all (unbounded); swap this type to change it.
type indexCache struct {
	mu    sync.Mutex
	items map[string]*cacheEntry
}

type cacheEntry struct {
	once  sync.Once
	index rag.Index
	err   error
}

func newIndexCache() *indexCache {
	return &indexCache{items: make(map[string]*cacheEntry)}
}

// getOrCreate returns the cached handle for key, invoking create at most
// once per entry. A failed create is forgotten so the next caller retries
// lazy initialization instead of pinning the error.
func (c *indexCache) getOrCreate(key string, create func() (rag.Index, error)) (rag.Index, error) {
	c.mu.Lock()
	entry, ok := c.items[key]
	if !ok {
		entry = &cacheEntry{}
		c.items[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.index, entry.err = create()
	})
	if entry.err != nil {
		c.mu.Lock()
		if c.items[key] == entry {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, entry.err
	}
	return entry.index, nil
}

// forget drops the handle for key.
func (c *indexCache) forget(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// forgetPrefix drops every handle whose key starts with prefix. Used when a
// project is deleted.
func (c *indexCache) forgetPrefix(prefix string) {
	c.mu.Lock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}
