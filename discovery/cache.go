// Package discovery implements spec.md §4.2's pre-flight: querying each
// tool service's discovery endpoint, caching the result with a TTL, and
// checking required tools are present before the Orchestrator accepts
// work.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// Entry is one cached discovery result, as spec.md §4.2 describes:
// "{discovered_at, info}".
type Entry struct {
	DiscoveredAt time.Time           `json:"discovered_at"`
	Info         domain.DiscoveryInfo `json:"info"`
}

// Expired reports whether the entry is older than ttl as of now.
func (e Entry) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.DiscoveredAt) > ttl
}

// Cache is the capability cache contract: get a possibly-stale entry, or
// store a freshly discovered one. Implementations must be safe for
// concurrent use; mutation happens under a short critical section per
// spec.md §5, readers proceed without locking once materialized.
type Cache interface {
	Get(ctx context.Context, service string) (Entry, bool, error)
	Set(ctx context.Context, service string, entry Entry) error
}

// MemoryCache is a mutex-protected, in-process Cache used by tests and by
// single-replica deployments that don't need cross-process sharing. Built
// the way core.MockDiscovery is built: a plain map behind a RWMutex.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(_ context.Context, service string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[service]
	return e, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, service string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[service] = entry
	return nil
}

// RedisCache stores discovery entries in Redis, keyed the way the
// teacher's RedisDiscovery keys service data:
// "{namespace}:services:{serviceName}" holds the serialized Entry, with a
// Redis-side expiry equal to the discovery TTL so a process restart never
// serves a silently stale cache.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisCache dials redisURL and wraps it as a discovery Cache.
func NewRedisCache(redisURL, namespace string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %v", platform.ErrInvalidConfiguration, err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", platform.ErrConnectionFailed, err)
	}
	if namespace == "" {
		namespace = "storyforge"
	}
	return &RedisCache{client: client, namespace: namespace, ttl: ttl}, nil
}

func (c *RedisCache) key(service string) string {
	return fmt.Sprintf("%s:services:%s", c.namespace, service)
}

func (c *RedisCache) Get(ctx context.Context, service string) (Entry, bool, error) {
	val, err := c.client.Get(ctx, c.key(service)).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: redis get: %v", platform.ErrConnectionFailed, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, service string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal discovery entry: %v", platform.ErrInvalidConfiguration, err)
	}
	if err := c.client.Set(ctx, c.key(service), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", platform.ErrConnectionFailed, err)
	}
	// Capability index, mirroring the teacher's "{ns}:capabilities:{cap}"
	// pattern, repurposed here to index which services expose which
	// ToolCapability so an operator can answer "who can Batch?" without
	// scanning every service entry.
	for _, tool := range entry.Info.AvailableTools {
		for _, cap := range tool.Capabilities {
			capKey := fmt.Sprintf("%s:capabilities:%s", c.namespace, cap)
			c.client.SAdd(ctx, capKey, service)
			c.client.Expire(ctx, capKey, c.ttl*2)
		}
	}
	return nil
}
