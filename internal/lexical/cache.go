package lexical

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of snapshots kept by a Cache.
const DefaultCacheSize = 8

// Cache keeps built indexes keyed by repository snapshot (head commit SHA).
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Index]
}

// NewCache returns a cache holding at most size indexes.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Index](size)
	if err != nil {
		return nil, fmt.Errorf("creating index cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// GetOrBuild returns the cached index for sha or builds and stores one. An
// empty sha disables caching.
func (c *Cache) GetOrBuild(sha string, build func() (*Index, error)) (*Index, bool, error) {
	if sha == "" {
		idx, err := build()
		return idx, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.entries.Get(sha); ok {
		return idx, true, nil
	}
	idx, err := build()
	if err != nil {
		return nil, false, err
	}
	c.entries.Add(sha, idx)
	return idx, false, nil
}

// Len returns the number of cached indexes.
func (c *Cache) Len() int {
	return c.entries.Len()
}
