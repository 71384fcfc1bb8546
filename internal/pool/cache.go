package pool

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache stores task results by cache key. Implementations must be safe for
// concurrent use; concurrent writes of one key keep the last value.
type Cache interface {
	Get(key string) (any, bool)
	Add(key string, value any)
}

// LRUCache is a size-bounded Cache.
type LRUCache struct {
	lru *lru.Cache[string, any]
}

// NewLRUCache returns a cache holding at most size results.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: c}, nil
}

func (c *LRUCache) Get(key string) (any, bool) {
	return c.lru.Get(key)
}

func (c *LRUCache) Add(key string, value any) {
	c.lru.Add(key, value)
}

// Len returns the number of cached results.
func (c *LRUCache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached result.
func (c *LRUCache) Purge() {
	c.lru.Purge()
}
