package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/util"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "search:results:"

// CachedProvider serves repeated queries from Redis. Cache faults are logged
// and fall through to the wrapped provider. Failed or empty searches are not
// cached.
type CachedProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedProvider{next: next, client: client, ttl: ttl, log: log}
}

func (c *CachedProvider) TextSearch(ctx context.Context, query string, max int) ([]SearchResult, error) {
	key := cacheKey(query, max)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []SearchResult
		if jerr := json.Unmarshal(data, &cached); jerr == nil {
			return cached, nil
		}
		c.log.Warn("discarding corrupt search cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("search cache read failed", zap.Error(err))
	}

	results, err := c.next.TextSearch(ctx, query, max)
	if err != nil || len(results) == 0 {
		return results, err
	}
	if err := c.store(ctx, key, results); err != nil {
		c.log.Warn("search cache write failed", zap.Error(err))
	}
	return results, nil
}

func (c *CachedProvider) store(ctx context.Context, key string, results []SearchResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func cacheKey(query string, max int) string {
	norm := strings.ToLower(strings.Join(strings.Fields(query), " "))
	return cachePrefix + util.SHA256Hex([]byte(fmt.Sprintf("%s|%d", norm, max)))
}
