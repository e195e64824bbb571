// Package cache provides an optional Redis-backed cache of sanitize results,
// keyed by the input text and the governing policy so a policy change never
// serves stale output.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/config"
	"github.com/slkreddy/SafeLayer/internal/logger"
)

// ResultCache caches sanitized output for repeated inputs.
type ResultCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *logger.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg config.CacheConfig, log *logger.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("default_ttl", cfg.DefaultTTL),
	)

	return &ResultCache{client: client, config: cfg, logger: log}, nil
}

// Key derives the cache key for an input under a specific policy revision.
func (c *ResultCache) Key(policyName, policyVersion, text string) string {
	sum := sha256.Sum256([]byte(policyName + "\x00" + policyVersion + "\x00" + text))
	return fmt.Sprintf("%s:result:%s", c.config.KeyPrefix, hex.EncodeToString(sum[:]))
}

// Get returns the cached sanitized output for key, if present.
func (c *ResultCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get failed: %w", err)
	}
	return val, true, nil
}

// Set stores a sanitized output under key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, key, output string) error {
	if err := c.client.Set(ctx, key, output, c.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *ResultCache) Close() error {
	return c.client.Close()
}

// maskRedisURL hides credentials when logging the connection string.
func maskRedisURL(url string) string {
	if at := strings.Index(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
