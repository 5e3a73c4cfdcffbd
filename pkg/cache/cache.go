// SPDX-License-Identifier: Apache-2.0

// Package cache provides the per-connection prepared-statement LRU
// cache, built on hashicorp/golang-lru/v2's eviction callbacks so an
// evicted entry finalizes its own driver handle automatically.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// lruEpoch is the process-wide monotonic counter stamped onto a
// statement at every cache hit. golang-lru tracks recency internally;
// the epoch exists so callers can observe hit ordering across
// statements without reaching into the LRU.
var lruEpoch atomic.Uint64

// Cache is the prepared-statement cache owned by a single
// DatabaseHandle. It is not safe to share across handles: eviction
// finalizes the statement against the specific driver/handle pair the
// Cache was constructed with.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, *engine.PreparedStatement]
	driver engine.Driver
	handle *engine.DatabaseHandle
}

// New builds a Cache of the given capacity for handle, unpreparing
// evicted statements against driver. Size falls back to
// engine.DefaultPreparedStatementCacheSize when size <= 0.
func New(driver engine.Driver, handle *engine.DatabaseHandle, size int) (*Cache, error) {
	if size <= 0 {
		size = engine.DefaultPreparedStatementCacheSize
	}

	c := &Cache{driver: driver, handle: handle}

	evicted, err := lru.NewWithEvict(size, func(_ string, stmt *engine.PreparedStatement) {
		_ = c.driver.UnprepareStatement(context.Background(), c.handle, stmt)
	})
	if err != nil {
		return nil, err
	}
	c.lru = evicted

	return c, nil
}

// GetOrPrepare returns the cached statement for name, preparing and
// inserting it (possibly evicting the least recently used entry) if
// absent.
func (c *Cache) GetOrPrepare(ctx context.Context, name, sqlTemplate string) (*engine.PreparedStatement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stmt, ok := c.lru.Get(name); ok {
		stmt.UsageCount++
		stmt.LastUsedEpoch = lruEpoch.Add(1)
		return stmt, nil
	}

	stmt, err := c.driver.PrepareStatement(ctx, c.handle, name, sqlTemplate)
	if err != nil {
		return nil, err
	}
	stmt.UsageCount = 1
	stmt.LastUsedEpoch = lruEpoch.Add(1)

	c.lru.Add(name, stmt)
	return stmt, nil
}

// Invalidate unprepares and removes name from the cache, if present.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(name)
}

// Len reports how many statements are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge unprepares and removes every cached statement, used when a
// handle disconnects.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
