package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tabdil/backend/internal/metrics"
)

// Kind identifies the cache namespace of an entity type. The mapping from
// kind to namespace is fixed at compile time.
type Kind int

const (
	KindVendor Kind = iota
	KindPhoneNumber
	KindVendorTransaction
	KindPhoneNumberTransaction
)

func (k Kind) String() string {
	switch k {
	case KindVendor:
		return "vendors"
	case KindPhoneNumber:
		return "phone_numbers"
	case KindVendorTransaction:
		return "vendor_transactions"
	case KindPhoneNumberTransaction:
		return "phone_number_transactions"
	default:
		return "unknown"
	}
}

// Cache is a best-effort read cache over Redis. Every operation tolerates a
// nil client and swallows Redis errors: the ledger store is the durable
// truth and a broken cache must never abort a mutation or a read.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics metrics.Emitter
}

// New builds a cache layer. client may be nil, in which case every Get
// misses and every invalidation is a no-op.
func New(client *redis.Client, ttl time.Duration, emitter metrics.Emitter) *Cache {
	if emitter == nil {
		emitter = metrics.NopEmitter{}
	}
	return &Cache{client: client, ttl: ttl, metrics: emitter}
}

// DetailKey names the cached detail view of one entity.
func DetailKey(kind Kind, id int64) string {
	return fmt.Sprintf("%s:detail:%d", kind, id)
}

// ListKey names a cached list view. path carries the request path and query
// so differently filtered lists cache separately.
func ListKey(kind Kind, path string) string {
	return fmt.Sprintf("%s:list:%s", kind, path)
}

// Get loads a cached value into dest. Returns false on miss, on any Redis
// error and on decode failure.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[CACHE] get %s failed: %v", key, err)
		}
		c.metrics.Emit(metrics.EventCacheMiss, map[string]string{"cache_key": key})
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		log.Printf("[CACHE] decode %s failed: %v", key, err)
		c.metrics.Emit(metrics.EventCacheMiss, map[string]string{"cache_key": key})
		return false
	}

	c.metrics.Emit(metrics.EventCacheHit, map[string]string{"cache_key": key})
	return true
}

// Set stores a value under key for the configured TTL. Failures are logged
// and dropped.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[CACHE] encode %s failed: %v", key, err)
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("[CACHE] set %s failed: %v", key, err)
	}
}

// Delete removes exact keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[CACHE] delete failed: %v", err)
	}
}

// DeleteMatching removes every key matching a glob pattern.
func (c *Cache) DeleteMatching(ctx context.Context, pattern string) {
	if c == nil || c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("[CACHE] scan %s failed: %v", pattern, err)
		return
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			log.Printf("[CACHE] delete %s failed: %v", pattern, err)
		}
	}
}

// Invalidate clears the detail entry and every list entry for one entity.
// Callers run it only after the mutating transaction has committed, so the
// cache never holds a value that is later rolled back.
func (c *Cache) Invalidate(ctx context.Context, kind Kind, id int64) {
	if c == nil || c.client == nil {
		return
	}

	c.DeleteMatching(ctx, fmt.Sprintf("%s:detail:%d*", kind, id))
	c.DeleteMatching(ctx, fmt.Sprintf("%s:list:*", kind))
}
