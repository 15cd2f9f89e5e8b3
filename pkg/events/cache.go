// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultCacheBytes is the default memory bound of a Cache: 1GiB.
const DefaultCacheBytes = int64(1) << 30

// Cache of loaded collections, keyed by Source.Key and bound in memory.
//
// It is opt-in and process-local: an evicted collection is simply read again by the next Load.
// It is safe for concurrent use.
type Cache struct {
	store        *ristretto.Cache
	maxBytes     int64
	hits, misses atomic.Int64
}

// NewCache creates a cache that holds at most maxBytes (as estimated by Collection.MemoryBytes).
func NewCache(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, errors.Errorf("cache size must be > 0, got %d", maxBytes)
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1000,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create events cache")
	}
	return &Cache{store: store, maxBytes: maxBytes}, nil
}

// Get returns the collection stored for key, if present.
func (c *Cache) Get(key string) (*Collection, bool) {
	v, found := c.store.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v.(*Collection), true
}

// Put stores the collection under key. Collections larger than the cache are not stored.
// It returns whether the collection was accepted.
func (c *Cache) Put(key string, collection *Collection) bool {
	cost := collection.MemoryBytes()
	if cost > c.maxBytes {
		klog.V(1).Infof("events cache: %s collection doesn't fit cache of %s, not caching",
			humanize.Bytes(uint64(cost)), humanize.Bytes(uint64(c.maxBytes)))
		return false
	}
	accepted := c.store.Set(key, collection, cost)
	c.store.Wait()
	return accepted
}

// Stats returns the number of hits and misses so far.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the cache resources.
func (c *Cache) Close() {
	c.store.Close()
}

// cachedSource decorates a Source with a Cache.
type cachedSource struct {
	Source
	cache *Cache
}

// Cached returns a Source that serves Load from the cache when possible.
// If cache is nil, source is returned unchanged.
func Cached(source Source, cache *Cache) Source {
	if cache == nil {
		return source
	}
	return &cachedSource{Source: source, cache: cache}
}

// Load implements Source.
func (s *cachedSource) Load() (*Collection, error) {
	key := s.Key()
	if c, found := s.cache.Get(key); found {
		klog.V(1).Infof("events cache hit for %q (%d events)", s.Name(), c.Len())
		return c, nil
	}
	c, err := s.Source.Load()
	if err != nil {
		return nil, err
	}
	if s.cache.Put(key, c) {
		hits, misses := s.cache.Stats()
		klog.V(1).Infof("events cache: stored %q, %d events, %s (hits=%d, misses=%d)",
			s.Name(), c.Len(), humanize.Bytes(uint64(c.MemoryBytes())), hits, misses)
	}
	return c, nil
}
