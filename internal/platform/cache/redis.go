package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements Store against a shared Redis instance, so the
// intel_match suppression window survives process restarts and can be
// shared by more than one collector process on the same box. It is selected over the in-memory Cache when
// REDIS_ADDR is configured; otherwise the in-memory default is used. Redis
// here is local-box scoped, not a multi-node coordination layer.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a RedisCache against addr, namespacing every key
// under prefix to share one Redis instance across components.
func NewRedis(addr, prefix string) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (r *RedisCache) key(k string) string { return r.prefix + ":" + k }

// Get returns the value stored under key, if present and unexpired. Values
// are round-tripped through JSON since redis.Client stores strings.
func (r *RedisCache) Get(key string) (interface{}, bool) {
	raw, err := r.client.Get(context.Background(), r.key(key)).Result()
	if err != nil {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

// SetTTL stores value under key with an explicit TTL via Redis's native
// expiry.
func (r *RedisCache) SetTTL(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	r.client.Set(context.Background(), r.key(key), data, ttl)
}

// InvalidateAll removes every key under this cache's prefix.
func (r *RedisCache) InvalidateAll() {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
}

// Close releases the underlying Redis connection pool.
func (r *RedisCache) Close() {
	_ = r.client.Close()
}
