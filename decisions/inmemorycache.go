package decisions

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	assumptions []Assumption
	cachedAt    time.Time
}

// InMemoryAssumptionCache is a simple in-memory implementation of AssumptionCache.
// Thread-safe for concurrent access.
type InMemoryAssumptionCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryAssumptionCache creates a new in-memory assumption cache
func NewInMemoryAssumptionCache(config CacheConfig) *InMemoryAssumptionCache {
	return &InMemoryAssumptionCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get returns a copy of the cached assumptions
func (c *InMemoryAssumptionCache) Get(tenantID string) ([]Assumption, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[tenantID]
	if !ok {
		return nil, false
	}
	if c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL {
		return nil, false
	}

	out := make([]Assumption, len(e.assumptions))
	copy(out, e.assumptions)
	return out, true
}

// Set stores a copy of assumptions for tenantID
func (c *InMemoryAssumptionCache) Set(tenantID string, assumptions []Assumption) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]Assumption, len(assumptions))
	copy(stored, assumptions)
	c.entries[tenantID] = cacheEntry{assumptions: stored, cachedAt: c.now()}
}

// Invalidate drops the entry for tenantID
func (c *InMemoryAssumptionCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, tenantID)
}

// CachedGateway serves GetUniversalAssumptions from an AssumptionCache and
// passes every other call through
type CachedGateway struct {
	Gateway
	cache AssumptionCache
}

// NewCachedGateway wraps g with cache
func NewCachedGateway(g Gateway, cache AssumptionCache) *CachedGateway {
	return &CachedGateway{Gateway: g, cache: cache}
}

func (g *CachedGateway) GetUniversalAssumptions(ctx context.Context, tenantID string) ([]Assumption, error) {
	if cached, ok := g.cache.Get(tenantID); ok {
		return cached, nil
	}

	assumptions, err := g.Gateway.GetUniversalAssumptions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	g.cache.Set(tenantID, assumptions)
	return assumptions, nil
}

// InvalidateTenant drops the cached universal assumptions of tenantID
func (g *CachedGateway) InvalidateTenant(tenantID string) {
	g.cache.Invalidate(tenantID)
}
