package rules

import (
	"testing"
	"time"
)

func TestCacheMissUntilSet(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	if cache.IsValid() {
		t.Error("fresh cache should be invalid")
	}
	if got := cache.Get(); got != nil {
		t.Errorf("Get() on empty cache = %v, want nil", got)
	}

	cache.Set([]*Rule{storeRule("r-1", true)})
	if !cache.IsValid() {
		t.Error("cache should be valid after Set")
	}
	got := cache.Get()
	if len(got) != 1 || got[0].ID != "r-1" {
		t.Errorf("Get() = %v", activeIDs(got))
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	cache.Set([]*Rule{storeRule("r-1", true)})

	cache.Invalidate()
	if cache.IsValid() {
		t.Error("cache should be invalid after Invalidate")
	}
	if cache.Get() != nil {
		t.Error("Get() after Invalidate should miss")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 10 * time.Millisecond})
	cache.Set([]*Rule{storeRule("r-1", true)})

	if !cache.IsValid() {
		t.Fatal("cache should be valid right after Set")
	}

	time.Sleep(20 * time.Millisecond)
	if cache.IsValid() {
		t.Error("cache should expire past its TTL")
	}
	if cache.Get() != nil {
		t.Error("Get() past TTL should miss")
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	cache.Set([]*Rule{storeRule("r-1", true), storeRule("r-2", true)})

	got := cache.Get()
	got[0] = nil

	again := cache.Get()
	if again[0] == nil {
		t.Error("mutating the returned slice must not corrupt the cache")
	}
}
