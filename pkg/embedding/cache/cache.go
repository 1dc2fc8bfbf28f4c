// Package cache implements the Embedding Service's persistent, size-bounded
// LRU+TTL cache (spec section 4.4), grounded on the teacher's two-level
// cache shape in pkg/embedding/cache/lru/manager.go: an in-process
// hashicorp/golang-lru/v2 hot layer fronting a redis/go-redis/v9 durable
// layer that survives process restarts. Durability ("write-ahead mode" in
// the source) is delegated to Redis's own AOF/RDB persistence rather than
// a bespoke WAL, since the concrete persistent layer chosen here is Redis
// rather than SQLite.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/S-Corkum/projectmemory/internal/resilience"
	"github.com/S-Corkum/projectmemory/pkg/observability"
)

// Entry is one cached embedding (spec section 4.4). Content is retained
// alongside content_hash (not named explicitly in spec section 4.4's field
// list, but required to make the fallback-refresh maintenance operation
// possible: re-embedding an entry means calling the primary provider with
// its original text, which content_hash alone cannot recover).
type Entry struct {
	Vector         []float32 `json:"vector"`
	IsFallback     bool      `json:"is_fallback"`
	Model          string    `json:"model"`
	Content        string    `json:"content"`
	ContentHash    string    `json:"content_hash"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
}

// Stats reports cache health for memory_statistics (spec section 4.4 /
// maintenance tools).
type Stats struct {
	Size       int64
	MaxEntries int64
	Hits       int64
	Misses     int64
}

// Key derives the cache key H(content || model_name) per spec section 4.4.
func Key(content, model string) string {
	sum := sha256.Sum256([]byte(content + "\x00" + model))
	return hex.EncodeToString(sum[:])
}

const indexSet = "projectmemory:embedcache:lru"

// Cache is the two-level embedding cache. All mutations serialize through
// mu, per spec section 4.4 ("all cache mutations are serialized through a
// single lock... reads under the same lock are acceptable").
type Cache struct {
	redis      *redis.Client
	hot        *lru.Cache[string, Entry]
	maxEntries int
	ttl        time.Duration
	evictFrac  float64
	logger     observability.Logger

	mu          sync.Mutex
	hits, misses int64
}

// New builds a cache; redisAddr == "" runs hot-layer-only, entirely
// in-process (the mode the tests use, and the one used when no Redis is
// configured).
func New(redisAddr string, maxEntries int, ttl time.Duration, evictFrac float64, logger observability.Logger) (*Cache, error) {
	hot, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}
	c := &Cache{
		hot:        hot,
		maxEntries: maxEntries,
		ttl:        ttl,
		evictFrac:  evictFrac,
		logger:     logger,
	}
	if redisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return c, nil
}

// Get returns the cached entry for key, updating last_accessed_at on hit
// (spec section 4.4 step 1).
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.hot.Get(key); ok {
		e.LastAccessedAt = time.Now().UTC()
		e.AccessCount++
		c.hot.Add(key, e)
		c.hits++
		c.touchRedis(ctx, key, e)
		return &e, true, nil
	}

	if c.redis == nil {
		c.misses++
		return nil, false, nil
	}

	var result *Entry
	err := resilience.Guard(ctx, resilience.CacheCircuitBreaker, func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			raw, err := c.redis.Get(ctx, redisKey(key)).Bytes()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("cache: unmarshal entry: %w", err)
			}
			e.LastAccessedAt = time.Now().UTC()
			e.AccessCount++
			result = &e
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		c.misses++
		return nil, false, nil
	}
	c.hits++
	c.hot.Add(key, *result)
	c.touchRedis(ctx, key, *result)
	return result, true, nil
}

func (c *Cache) touchRedis(ctx context.Context, key string, e Entry) {
	if c.redis == nil {
		return
	}
	_ = c.redis.ZAdd(ctx, indexSet, redis.Z{Score: float64(e.LastAccessedAt.UnixNano()), Member: key}).Err()
}

// Set writes an entry, evicting the oldest 10% (spec section 4.4) if the
// cache is at capacity.
func (c *Cache) Set(ctx context.Context, key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(ctx, key, e)
}

func (c *Cache) setLocked(ctx context.Context, key string, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.LastAccessedAt = time.Now().UTC()

	if c.hot.Len() >= c.maxEntries {
		if _, ok := c.hot.Get(key); !ok {
			c.evictOldestLocked(ctx)
		}
	}
	c.hot.Add(key, e)

	if c.redis == nil {
		return nil
	}
	return resilience.Guard(ctx, resilience.CacheCircuitBreaker, func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("cache: marshal entry: %w", err)
			}
			pipe := c.redis.TxPipeline()
			pipe.Set(ctx, redisKey(key), raw, c.ttl)
			pipe.ZAdd(ctx, indexSet, redis.Z{Score: float64(e.LastAccessedAt.UnixNano()), Member: key})
			_, err = pipe.Exec(ctx)
			return err
		})
	})
}

// evictOldestLocked evicts floor(maxEntries * evictFrac) keys (at least
// one) by oldest
// last_accessed_at, matching spec section 4.4's "evict the oldest... 10%
// at a time".
func (c *Cache) evictOldestLocked(ctx context.Context) {
	n := int(float64(c.maxEntries) * c.evictFrac)
	if n < 1 {
		n = 1
	}

	type agedKey struct {
		key string
		at  time.Time
	}
	var candidates []agedKey
	for _, k := range c.hot.Keys() {
		if e, ok := c.hot.Peek(k); ok {
			candidates = append(candidates, agedKey{key: k, at: e.LastAccessedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })

	for i := 0; i < n && i < len(candidates); i++ {
		c.hot.Remove(candidates[i].key)
		if c.redis != nil {
			c.redis.Del(ctx, redisKey(candidates[i].key))
			c.redis.ZRem(ctx, indexSet, candidates[i].key)
		}
	}
}

// GetBatch looks up many keys, returning only the hits; callers compute
// the miss set by diffing against the requested keys (spec section 4.4
// embed_batch: "split texts into cached and uncached").
func (c *Cache) GetBatch(ctx context.Context, keys []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(keys))
	for _, k := range keys {
		if e, ok, err := c.Get(ctx, k); err != nil {
			return nil, err
		} else if ok {
			out[k] = *e
		}
	}
	return out, nil
}

func (c *Cache) SetBatch(ctx context.Context, entries map[string]Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range entries {
		if err := c.setLocked(ctx, k, e); err != nil {
			return err
		}
	}
	return nil
}

// FallbackKeys enumerates cache keys whose entry was produced by the local
// fallback model, for the Normalizer's embedding_refresh phase and the
// standalone fallback-refresh maintenance operation (spec section 4.4).
func (c *Cache) FallbackKeys(ctx context.Context) ([]string, error) {
	var out []string
	for _, k := range c.hot.Keys() {
		if e, ok := c.hot.Peek(k); ok && e.IsFallback {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       int64(c.hot.Len()),
		MaxEntries: int64(c.maxEntries),
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func redisKey(key string) string { return "projectmemory:embedcache:" + key }
