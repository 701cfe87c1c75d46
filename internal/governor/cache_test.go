package governor

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func newTestCache(t *testing.T, maxEntries int, ttl time.Duration) *PullCache {
	t.Helper()
	cache, err := NewPullCache("", maxEntries, ttl, nil)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCachePutGet(t *testing.T) {
	cache := newTestCache(t, 10, time.Minute)

	body := []byte(`{"changes":{}}`)
	cache.Put("alice", 100, 200, body)

	got := cache.Get("alice", 100)
	if !bytes.Equal(got, body) {
		t.Errorf("Expected cached body, got %v", got)
	}

	if cache.Get("alice", 999) != nil {
		t.Error("Different watermark must miss")
	}
	if cache.Get("bob", 100) != nil {
		t.Error("Different user must miss")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := newTestCache(t, 10, time.Minute)

	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Put("alice", 100, 200, []byte("x"))

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	if cache.Get("alice", 100) != nil {
		t.Error("Expired entry must miss")
	}
}

func TestCacheInvalidateUser(t *testing.T) {
	cache := newTestCache(t, 10, time.Minute)

	cache.Put("alice", 0, 1, []byte("a0"))
	cache.Put("alice", 100, 2, []byte("a100"))
	cache.Put("bob", 0, 3, []byte("b0"))

	cache.InvalidateUser("alice")

	if cache.Get("alice", 0) != nil || cache.Get("alice", 100) != nil {
		t.Error("All of alice's entries must be invalidated")
	}
	if cache.Get("bob", 0) == nil {
		t.Error("Bob's entries must survive alice's invalidation")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	cache := newTestCache(t, 3, time.Minute)

	for i := 0; i < 5; i++ {
		cache.Put("alice", int64(i), 0, []byte{byte(i)})
	}

	// Oldest two fell off.
	if cache.Get("alice", 0) != nil || cache.Get("alice", 1) != nil {
		t.Error("LRU must evict the oldest entries")
	}
	for i := int64(2); i < 5; i++ {
		if cache.Get("alice", i) == nil {
			t.Errorf("Entry %d must survive", i)
		}
	}
}

func TestCacheEvictExpired(t *testing.T) {
	cache := newTestCache(t, 10, time.Minute)

	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Put("alice", 0, 0, []byte("old"))

	cache.now = func() time.Time { return base.Add(30 * time.Second) }
	cache.Put("alice", 1, 0, []byte("fresh"))

	cache.now = func() time.Time { return base.Add(70 * time.Second) }
	cache.EvictExpired()

	cache.mu.Lock()
	remaining := cache.lru.Len()
	cache.mu.Unlock()
	if remaining != 1 {
		t.Errorf("Expected 1 entry after eviction, got %d", remaining)
	}
	if cache.Get("alice", 1) == nil {
		t.Error("Fresh entry must survive eviction")
	}
}

func TestCacheWarmRestart(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewPullCache(dir, 10, time.Minute, nil)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	cache.Put("alice", 100, 200, []byte("persisted"))
	if err := cache.Close(); err != nil {
		t.Fatalf("Failed to close cache: %v", err)
	}

	reopened, err := NewPullCache(dir, 10, time.Minute, nil)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer reopened.Close()

	got := reopened.Get("alice", 100)
	if !bytes.Equal(got, []byte("persisted")) {
		t.Errorf("Expected warm entry after restart, got %v", got)
	}
}

func TestCacheKeyFormat(t *testing.T) {
	if cacheKey("alice", 42) != fmt.Sprintf("%s/%d", "alice", 42) {
		t.Error("Unexpected cache key format")
	}
}
