package governor

import (
	"container/list"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/shelfmark/shelfmark/backend/internal/logging"
)

// PullCache memoizes serialized pull responses keyed by (user,
// watermark). Entries live in memory with LRU eviction and are mirrored
// to a badger store so a restarted server comes back warm. Any push by
// a user invalidates that user's entries; pushes touching shared lists
// are handled by the short TTL.
type PullCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	maxEntries int
	ttl        time.Duration

	store   *badger.DB
	metrics *Metrics

	now func() time.Time
}

type cacheEntry struct {
	key       string
	userID    string
	body      []byte
	storedAt  time.Time
	serverTS  int64
	watermark int64
}

// persistedEntry is the badger value format.
type persistedEntry struct {
	Body     []byte `json:"body"`
	StoredAt int64  `json:"stored_at"`
	ServerTS int64  `json:"server_ts"`
}

// NewPullCache creates the cache. cacheDir may be empty to run
// memory-only (tests do this).
func NewPullCache(cacheDir string, maxEntries int, ttl time.Duration, metrics *Metrics) (*PullCache, error) {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c := &PullCache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		metrics:    metrics,
		now:        time.Now,
	}

	if cacheDir != "" {
		opts := badger.DefaultOptions(cacheDir).WithLogger(nil)
		store, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open pull cache store: %w", err)
		}
		c.store = store
		c.warmFromStore()
	}

	return c, nil
}

func cacheKey(userID string, watermark int64) string {
	return fmt.Sprintf("%s/%d", userID, watermark)
}

// Get returns the cached response body for (userID, watermark), or nil
// on a miss or expired entry.
func (c *PullCache) Get(userID string, watermark int64) []byte {
	key := cacheKey(userID, watermark)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.miss()
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.removeLocked(el)
		c.miss()
		return nil
	}

	c.lru.MoveToFront(el)
	c.hit()
	return entry.body
}

// Put stores a serialized pull response. Responses with HasMore pages
// are cacheable too; the key includes the watermark so each page keys
// separately.
func (c *PullCache) Put(userID string, watermark, serverTS int64, body []byte) {
	key := cacheKey(userID, watermark)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	entry := &cacheEntry{
		key:       key,
		userID:    userID,
		body:      body,
		storedAt:  c.now(),
		serverTS:  serverTS,
		watermark: watermark,
	}
	c.entries[key] = c.lru.PushFront(entry)
	for c.lru.Len() > c.maxEntries {
		c.removeLocked(c.lru.Back())
	}
	c.mu.Unlock()

	c.persist(key, entry)
}

// InvalidateUser drops all cached pages for one user. Called after
// every successful push by that user.
func (c *PullCache) InvalidateUser(userID string) {
	prefix := userID + "/"

	c.mu.Lock()
	var dropped []string
	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(el)
			dropped = append(dropped, key)
		}
	}
	c.mu.Unlock()

	if c.store == nil || len(dropped) == 0 {
		return
	}
	err := c.store.Update(func(txn *badger.Txn) error {
		for _, key := range dropped {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logging.Warn("pull cache store invalidation failed", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}
}

// Len returns the number of cached responses currently held in memory.
func (c *PullCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// EvictExpired drops entries past their TTL. Run it on a ticker.
func (c *PullCache) EvictExpired() {
	cutoff := c.now().Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*cacheEntry).storedAt.Before(cutoff) {
			c.removeLocked(el)
		}
		el = prev
	}
}

// Run evicts expired entries on the given interval until stop closes.
func (c *PullCache) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.EvictExpired()
		case <-stop:
			return
		}
	}
}

// Close flushes and closes the badger store.
func (c *PullCache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *PullCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, entry.key)
}

func (c *PullCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *PullCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *PullCache) persist(key string, entry *cacheEntry) {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(persistedEntry{
		Body:     entry.body,
		StoredAt: entry.storedAt.UnixMilli(),
		ServerTS: entry.serverTS,
	})
	if err != nil {
		return
	}
	err = c.store.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), raw).WithTTL(c.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		logging.Warn("pull cache persist failed", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
}

// warmFromStore reloads unexpired entries after a restart.
func (c *PullCache) warmFromStore() {
	loaded := 0
	err := c.store.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			var p persistedEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				continue
			}
			storedAt := time.UnixMilli(p.StoredAt)
			if c.now().Sub(storedAt) > c.ttl {
				continue
			}
			parts := strings.SplitN(key, "/", 2)
			if len(parts) != 2 {
				continue
			}
			entry := &cacheEntry{
				key:      key,
				userID:   parts[0],
				body:     p.Body,
				storedAt: storedAt,
				serverTS: p.ServerTS,
			}
			c.entries[key] = c.lru.PushFront(entry)
			loaded++
			if c.lru.Len() >= c.maxEntries {
				break
			}
		}
		return nil
	})
	if err != nil {
		logging.Warn("pull cache warm load failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if loaded > 0 {
		logging.Info("pull cache warmed from disk", map[string]interface{}{"entries": loaded})
	}
}
