// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultInstanceCacheSize bounds the number of warm instances.
const DefaultInstanceCacheSize = 4

// InstanceCache keeps warm compiler instances keyed by Settings.Key.
//
// Description:
//
//	Starting a compiler is expensive, so an instance created for one round
//	is kept for the next round with equal settings. The cache is LRU
//	bounded; an evicted or removed instance is closed.
//
// Thread Safety: Safe for concurrent use. An instance must not be used by
// two invocations at once; a session drives one invocation at a time.
type InstanceCache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, Instance]
	logger *slog.Logger
}

// NewInstanceCache creates a cache. size <= 0 uses DefaultInstanceCacheSize.
func NewInstanceCache(size int, logger *slog.Logger) (*InstanceCache, error) {
	if size <= 0 {
		size = DefaultInstanceCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &InstanceCache{logger: logger.With("component", "compiler.InstanceCache")}
	cache, err := lru.NewWithEvict[string, Instance](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating instance cache: %w", err)
	}
	c.lru = cache
	return c, nil
}

func (c *InstanceCache) onEvict(key string, inst Instance) {
	if err := inst.Close(); err != nil {
		c.logger.Warn("closing compiler instance failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.Debug("compiler instance closed", slog.String("key", key))
}

// GetOrCreate returns the warm instance for settings, starting one with
// backend when none is cached. The boolean reports a cache hit.
func (c *InstanceCache) GetOrCreate(ctx context.Context, backend Backend, settings Settings) (Instance, bool, error) {
	key := settings.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if inst, ok := c.lru.Get(key); ok {
		recordInstanceLookup(ctx, true)
		return inst, true, nil
	}
	recordInstanceLookup(ctx, false)

	inst, err := backend.NewInstance(ctx, settings)
	if err != nil {
		return nil, false, &BackendError{Backend: backend.Name(), Err: err}
	}
	c.lru.Add(key, inst)
	return inst, false, nil
}

// Remove closes and forgets the instance for settings.
func (c *InstanceCache) Remove(settings Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(settings.Key())
}

// Len returns the number of warm instances.
func (c *InstanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close closes every cached instance.
func (c *InstanceCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
