package decisions

import "time"

// AssumptionCache caches the universal assumptions of each tenant.
// This allows swapping between in-memory, Redis, or other caching implementations.
type AssumptionCache interface {
	// Get retrieves cached assumptions, ok is false on a miss or expiry
	Get(tenantID string) (assumptions []Assumption, ok bool)

	// Set stores assumptions for a tenant
	Set(tenantID string, assumptions []Assumption)

	// Invalidate clears one tenant, forcing a refresh on next Get
	Invalidate(tenantID string)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig relies on invalidation from assumption change events and
// bounds drift from writers outside this process with a short TTL
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}
