// Package transform prepares user queries for retrieval: whitespace and
// case normalization, search term extraction, and cached query embedding.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/smartramana/ragmesh/pkg/embedding"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/redisclient"
)

const (
	cachePrefix    = "query_embedding:"
	cacheTTL       = time.Hour
	localCacheSize = 1024
	minTermLength  = 2
)

// Normalize collapses runs of whitespace and lowercases the query.
// Embeddings are case-insensitive, so the lowered form is what gets hashed
// and embedded.
func Normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Terms returns the whitespace tokens of a normalized query, dropping
// single-character ones. Postgres text search handles stop words itself.
func Terms(normalized string) []string {
	fields := strings.Fields(normalized)
	terms := make([]string, 0, len(fields))
	for _, term := range fields {
		if len(term) >= minTermLength {
			terms = append(terms, term)
		}
	}
	return terms
}

// TransformedQuery is the retrieval-ready form of a user query.
type TransformedQuery struct {
	Original   string
	Normalized string
	Terms      []string
	Embedding  []float32
}

// Transformer normalizes queries and resolves their embeddings through a
// two-tier cache: an in-process LRU in front of Redis. Both tiers fail open,
// so a dead cache only costs an extra embedding call.
type Transformer struct {
	client  embedding.Client
	redis   *redisclient.ResilientClient
	local   *lru.Cache[string, []float32]
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewTransformer creates a query transformer. A nil redis client disables
// the shared cache tier.
func NewTransformer(
	client embedding.Client,
	redisClient *redisclient.ResilientClient,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Transformer {
	if logger == nil {
		logger = observability.NewLogger("rag.transform")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	local, _ := lru.New[string, []float32](localCacheSize)
	return &Transformer{
		client:  client,
		redis:   redisClient,
		local:   local,
		logger:  logger,
		metrics: metrics,
	}
}

// Transform normalizes the query, extracts search terms, and resolves the
// query embedding.
func (t *Transformer) Transform(ctx context.Context, query string) (*TransformedQuery, error) {
	normalized := Normalize(query)
	if normalized == "" {
		return nil, ragerrors.New("QUERY_EMPTY", "query cannot be empty", ragerrors.ClassValidation)
	}

	vector, err := t.embed(ctx, normalized)
	if err != nil {
		return nil, err
	}

	return &TransformedQuery{
		Original:   query,
		Normalized: normalized,
		Terms:      Terms(normalized),
		Embedding:  vector,
	}, nil
}

// EmbedQuery resolves just the embedding for a query.
func (t *Transformer) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	normalized := Normalize(query)
	if normalized == "" {
		return nil, ragerrors.New("QUERY_EMPTY", "query cannot be empty", ragerrors.ClassValidation)
	}
	return t.embed(ctx, normalized)
}

func (t *Transformer) embed(ctx context.Context, normalized string) ([]float32, error) {
	key := queryHash(normalized)

	if vector, ok := t.local.Get(key); ok {
		t.metrics.RecordCacheOperation("query_embedding_local", true, 0)
		return vector, nil
	}

	if vector := t.cacheGet(ctx, key); vector != nil {
		t.local.Add(key, vector)
		return vector, nil
	}

	vectors, err := t.client.EmbedBatch(ctx, []string{normalized}, embedding.TaskTypeQuery)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ragerrors.New("QUERY_EMBED_EMPTY",
			"embedding client returned no vector for query", ragerrors.ClassPermanent)
	}
	vector := vectors[0]

	t.local.Add(key, vector)
	t.cacheSet(ctx, key, vector)
	return vector, nil
}

func (t *Transformer) cacheGet(ctx context.Context, key string) []float32 {
	if t.redis == nil {
		return nil
	}

	start := time.Now()
	value, err := t.redis.Get(ctx, cachePrefix+key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.logger.Warn("Query embedding cache read failed, treating as miss", map[string]interface{}{
				"query_hash": key[:16],
				"error":      err.Error(),
			})
		}
		t.metrics.RecordCacheOperation("query_embedding_get", false, time.Since(start).Seconds())
		return nil
	}

	var vector []float32
	if err := json.Unmarshal([]byte(value), &vector); err != nil {
		t.logger.Warn("Corrupt cached query embedding, treating as miss", map[string]interface{}{
			"query_hash": key[:16],
			"error":      err.Error(),
		})
		t.metrics.RecordCacheOperation("query_embedding_get", false, time.Since(start).Seconds())
		return nil
	}

	t.metrics.RecordCacheOperation("query_embedding_get", true, time.Since(start).Seconds())
	return vector
}

func (t *Transformer) cacheSet(ctx context.Context, key string, vector []float32) {
	if t.redis == nil {
		return
	}

	payload, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := t.redis.Set(ctx, cachePrefix+key, payload, cacheTTL); err != nil {
		t.logger.Warn("Query embedding cache write failed", map[string]interface{}{
			"query_hash": key[:16],
			"error":      err.Error(),
		})
	}
}

// queryHash keys both cache tiers by the SHA-256 of the normalized query.
// Queries get their own key space; document embeddings use a different task
// type, so their vectors must never be shared with queries.
func queryHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
