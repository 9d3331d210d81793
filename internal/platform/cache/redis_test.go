package cache

import "testing"

func TestRedisCacheSatisfiesStore(t *testing.T) {
	var _ Store = (*RedisCache)(nil)
}

func TestRedisCacheNamespacesKeysUnderPrefix(t *testing.T) {
	r := &RedisCache{prefix: "orion:suppress"}
	if got := r.key("1.2.3.4|dev-1"); got != "orion:suppress:1.2.3.4|dev-1" {
		t.Fatalf("expected namespaced key, got %q", got)
	}
}
