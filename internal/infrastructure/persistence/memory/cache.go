// Package memory provides an in-process result cache for single-node
// deployments and tests.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	data    []byte
	expires time.Time // zero = bounded only by the LRU TTL
}

// Cache implements query.ResultCache on an expirable LRU. The LRU TTL is an
// upper bound; a shorter per-entry TTL passed to Set is checked on Get.
type Cache struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

// NewCache creates a cache holding at most size entries for at most maxTTL.
func NewCache(size int, maxTTL time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		lru: expirable.NewLRU[string, entry](size, nil, maxTTL),
		now: time.Now,
	}
}

// Get returns the stored bytes. Expired entries are dropped and reported missing.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return e.data, true, nil
}

// Set stores a copy of value.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
