package concept

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/diligence/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

// Cache stores concept sets by key. Get reports a miss with ok=false.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on a go-redis client.
type RedisCache struct {
	rdb *goredis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// CachedExtractor memoizes another extractor by text hash. Cache failures
// fall through to the wrapped extractor.
type CachedExtractor struct {
	inner  Extractor
	cache  Cache
	prefix string
	ttl    time.Duration
}

func NewCachedExtractor(inner Extractor, cache Cache, prefix string, ttl time.Duration) *CachedExtractor {
	if prefix == "" {
		prefix = "concepts:"
	}
	return &CachedExtractor{inner: inner, cache: cache, prefix: prefix, ttl: ttl}
}

func (e *CachedExtractor) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.prefix + hex.EncodeToString(sum[:])
}

func (e *CachedExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	key := e.key(text)

	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.Debug("[Concept] Cache read failed", "err", err)
	}
	if ok {
		var concepts []string
		if err := json.Unmarshal(raw, &concepts); err == nil {
			return concepts, nil
		}
	}

	concepts, err := e.inner.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	concepts = Normalize(concepts)

	raw, err = json.Marshal(concepts)
	if err == nil {
		if err := e.cache.Set(ctx, key, raw, e.ttl); err != nil {
			logger.Debug("[Concept] Cache write failed", "err", err)
		}
	}
	return concepts, nil
}
