package cache

import "time"

// Store is the narrow capability both the in-memory Cache and the optional
// Redis-backed implementation satisfy. The intel_match suppression window
// is coded against this interface so a single-box deployment can run
// entirely in-memory while a deployment with REDIS_ADDR configured shares
// suppression state across restarts without code changes upstream. The
// SOAR high-water-mark does not use it; it is persisted to its own file.
type Store interface {
	Get(key string) (interface{}, bool)
	SetTTL(key string, value interface{}, ttl time.Duration)
	InvalidateAll()
	Close()
}
