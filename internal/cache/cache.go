package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// ErrLockHeld is returned when another holder owns a lock
var ErrLockHeld = errors.New("lock held by another worker")

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Access Level Operations

func accessKey(contentID int64) string {
	return fmt.Sprintf("content:%d:access", contentID)
}

// SetAccess caches a content's access level
func (c *Cache) SetAccess(ctx context.Context, contentID int64, level models.AccessLevel, ttl time.Duration) error {
	return c.client.Set(ctx, accessKey(contentID), string(level), ttl).Err()
}

// GetAccess returns a cached access level; ok is false on a miss
func (c *Cache) GetAccess(ctx context.Context, contentID int64) (level models.AccessLevel, ok bool, err error) {
	val, err := c.client.Get(ctx, accessKey(contentID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get access level from cache: %w", err)
	}
	return models.AccessLevel(val), true, nil
}

// DeleteAccess removes a cached access level
func (c *Cache) DeleteAccess(ctx context.Context, contentID int64) error {
	return c.client.Del(ctx, accessKey(contentID)).Err()
}

// Locking Operations for Distributed Systems

// Lock is a held distributed lock
type Lock struct {
	cache *Cache
	key   string
	token string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes the named lock for ttl or returns ErrLockHeld
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{cache: c, key: "lock:" + resource, token: uuid.NewString()}

	ok, err := c.client.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", resource, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lock, nil
}

// Release drops the lock if this holder still owns it
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.cache.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// AccessLookup resolves a content's access level from the record store
type AccessLookup interface {
	ContentAccess(ctx context.Context, contentID int64) (models.AccessLevel, error)
}

// AccessCache is a read-through cache in front of an AccessLookup. Redis
// failures fall back to the source.
type AccessCache struct {
	cache  *Cache
	source AccessLookup
	ttl    time.Duration
}

// NewAccessCache wraps source with a Redis read-through cache
func NewAccessCache(cache *Cache, source AccessLookup, ttl time.Duration) *AccessCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AccessCache{cache: cache, source: source, ttl: ttl}
}

// ContentAccess returns the cached level or loads and caches it
func (a *AccessCache) ContentAccess(ctx context.Context, contentID int64) (models.AccessLevel, error) {
	if level, ok, err := a.cache.GetAccess(ctx, contentID); err == nil && ok && level.Valid() {
		metrics.RecordCacheAccess("access", true)
		return level, nil
	}
	metrics.RecordCacheAccess("access", false)

	level, err := a.source.ContentAccess(ctx, contentID)
	if err != nil {
		return "", err
	}

	// best effort; the source already answered
	_ = a.cache.SetAccess(ctx, contentID, level, a.ttl)
	return level, nil
}
