package rules

import (
	"sync"
	"time"
)

// RulesCache caches the active-ruleset list in front of a RuleStore so
// hot evaluation paths do not query the database per request. The
// interface exists so the in-memory implementation can later be swapped
// for a shared one without touching callers.
type RulesCache interface {
	// Get returns cached rules, or nil on miss/expiry.
	Get() []*Rule

	// Set stores rules in the cache.
	Set(rules []*Rule)

	// Invalidate clears the cache; the next Get misses.
	Invalidate()

	// IsValid reports whether the cache currently holds usable data.
	IsValid() bool
}

// CacheConfig controls cache expiry.
type CacheConfig struct {
	// TTL for cached entries; 0 means no expiry, invalidate manually on
	// rule mutations.
	TTL time.Duration
}

// DefaultCacheConfig invalidates only on mutation, matching how the
// service uses the cache: rulesets change rarely and always through the
// API, which invalidates explicitly.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// InMemoryRulesCache is the process-local RulesCache. Thread-safe.
type InMemoryRulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	mu       sync.RWMutex
}

// NewInMemoryRulesCache creates an empty cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

// Get returns the cached ruleset, or nil when invalid or expired. The
// returned slice is a copy; callers cannot corrupt the cached list.
func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.validLocked() {
		return nil
	}
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Set stores a copy of rules in the cache.
func (c *InMemoryRulesCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.valid = true
}

// Invalidate clears the cache.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}

// IsValid reports whether the cache holds unexpired data.
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validLocked()
}

func (c *InMemoryRulesCache) validLocked() bool {
	if !c.valid {
		return false
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return false
	}
	return true
}
