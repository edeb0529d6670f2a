package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/redisclient"
)

const (
	cachePrefix = "embedding:"
	cacheTTL    = 7 * 24 * time.Hour
)

// RedisCache stores embeddings in Redis as JSON arrays keyed by content hash.
// Every failure degrades to a miss; a dead Redis slows ingestion down but
// never stops it.
type RedisCache struct {
	client  *redisclient.ResilientClient
	ttl     time.Duration
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewRedisCache creates an embedding cache with the default 7 day TTL
func NewRedisCache(client *redisclient.ResilientClient, logger observability.Logger, metrics observability.MetricsClient) *RedisCache {
	if logger == nil {
		logger = observability.NewLogger("embedding.cache")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &RedisCache{
		client:  client,
		ttl:     cacheTTL,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the cached embedding or nil on miss or backend failure
func (c *RedisCache) Get(ctx context.Context, contentHash string) []float32 {
	start := time.Now()
	value, err := c.client.Get(ctx, cachePrefix+contentHash)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Embedding cache read failed, treating as miss", map[string]interface{}{
				"content_hash": shortHash(contentHash),
				"error":        err.Error(),
			})
		}
		c.metrics.RecordCacheOperation("embedding_get", false, time.Since(start).Seconds())
		return nil
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(value), &embedding); err != nil {
		c.logger.Warn("Corrupt cached embedding, treating as miss", map[string]interface{}{
			"content_hash": shortHash(contentHash),
			"error":        err.Error(),
		})
		c.metrics.RecordCacheOperation("embedding_get", false, time.Since(start).Seconds())
		return nil
	}

	c.metrics.RecordCacheOperation("embedding_get", true, time.Since(start).Seconds())
	return embedding
}

// GetBatch looks up many hashes. Missing or failed keys are absent from the
// result map.
func (c *RedisCache) GetBatch(ctx context.Context, contentHashes []string) map[string][]float32 {
	results := make(map[string][]float32, len(contentHashes))
	for _, hash := range contentHashes {
		if embedding := c.Get(ctx, hash); embedding != nil {
			results[hash] = embedding
		}
	}

	c.logger.Debug("Batch embedding cache lookup", map[string]interface{}{
		"total":  len(contentHashes),
		"hits":   len(results),
		"misses": len(contentHashes) - len(results),
	})
	return results
}

// Set stores an embedding. Failures are logged and swallowed.
func (c *RedisCache) Set(ctx context.Context, contentHash string, embedding []float32) {
	payload, err := json.Marshal(embedding)
	if err != nil {
		c.logger.Warn("Failed to encode embedding for cache", map[string]interface{}{
			"content_hash": shortHash(contentHash),
			"error":        err.Error(),
		})
		return
	}
	if err := c.client.Set(ctx, cachePrefix+contentHash, payload, c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", map[string]interface{}{
			"content_hash": shortHash(contentHash),
			"error":        err.Error(),
		})
	}
}

// SetBatch stores many embeddings and returns how many writes succeeded
func (c *RedisCache) SetBatch(ctx context.Context, embeddings map[string][]float32) int {
	stored := 0
	for hash, embedding := range embeddings {
		payload, err := json.Marshal(embedding)
		if err != nil {
			continue
		}
		if err := c.client.Set(ctx, cachePrefix+hash, payload, c.ttl); err != nil {
			c.logger.Warn("Embedding cache write failed", map[string]interface{}{
				"content_hash": shortHash(hash),
				"error":        err.Error(),
			})
			continue
		}
		stored++
	}
	return stored
}

// shortHash truncates a content hash for log lines
func shortHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
