// Package retrieval provides hybrid search combining dense and lexical arms
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/rag/classify"
	"github.com/smartramana/ragmesh/pkg/rag/scoring"
	"github.com/smartramana/ragmesh/pkg/rag/transform"
	"github.com/smartramana/ragmesh/pkg/rowstore"
	"github.com/smartramana/ragmesh/pkg/vectorstore"
)

const (
	defaultVectorTopK  = 50
	defaultLexicalTopK = 20
)

// QueryTransformer normalizes a query and resolves its dense vector.
type QueryTransformer interface {
	Transform(ctx context.Context, query string) (*transform.TransformedQuery, error)
}

// ChunkFetcher backfills row data for merged hits.
type ChunkFetcher interface {
	GetByIDs(ctx context.Context, ids []string) ([]rowstore.ChunkRow, error)
}

// LexicalSearcher is the keyword arm of the retriever.
type LexicalSearcher interface {
	Search(ctx context.Context, tenantID, query string, topK int, documentID string) ([]SearchResult, error)
}

// HybridRetriever fans a query out to the dense and lexical arms in
// parallel, merges hits by chunk id, combines per-family scores with
// class-tuned weights, and optionally diversifies the final slate with MMR.
// A single failed arm degrades to the other; only both failing is an error.
type HybridRetriever struct {
	vectors     vectorstore.VectorStore
	lexical     LexicalSearcher
	chunks      ChunkFetcher
	transformer QueryTransformer
	vectorTopK  int
	lexicalTopK int
	logger      observability.Logger
	metrics     observability.MetricsClient
	now         func() time.Time
}

// NewHybridRetriever creates the retriever. Zero-valued candidate pools in
// cfg fall back to 50 dense and 20 lexical.
func NewHybridRetriever(
	vectors vectorstore.VectorStore,
	lexical LexicalSearcher,
	chunks ChunkFetcher,
	transformer QueryTransformer,
	cfg config.RetrievalConfig,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *HybridRetriever {
	if logger == nil {
		logger = observability.NewLogger("rag.retrieval")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if cfg.VectorTopK <= 0 {
		cfg.VectorTopK = defaultVectorTopK
	}
	if cfg.BM25TopK <= 0 {
		cfg.BM25TopK = defaultLexicalTopK
	}
	return &HybridRetriever{
		vectors:     vectors,
		lexical:     lexical,
		chunks:      chunks,
		transformer: transformer,
		vectorTopK:  cfg.VectorTopK,
		lexicalTopK: cfg.BM25TopK,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SearchOptions configures one retrieval run.
type SearchOptions struct {
	// TopK is the number of results to return. Zero or the request default
	// defers to the query class.
	TopK int
	// DocumentID narrows retrieval to a single document.
	DocumentID string
	// ApplyMMR enables diversity reranking. The load shedder switches it
	// off under pressure.
	ApplyMMR bool
	// VectorTopK and LexicalTopK size the per-arm candidate pools. Zero
	// defers to the retriever's configured pools.
	VectorTopK  int
	LexicalTopK int
}

// DefaultSearchOptions returns the standard retrieval configuration.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:     models.DefaultTopK,
		ApplyMMR: true,
	}
}

// RetrievalResult bundles the ranked chunks with the class that tuned them.
type RetrievalResult struct {
	Results []SearchResult
	Class   classify.Class
	Params  classify.RetrievalParams
}

// Retrieve runs the pipeline with default options.
func (h *HybridRetriever) Retrieve(ctx context.Context, tenantID, query string) (*RetrievalResult, error) {
	return h.RetrieveWithOptions(ctx, tenantID, query, DefaultSearchOptions())
}

// RetrieveWithOptions runs the full pipeline: classify, transform, parallel
// dense and lexical search, merge, score, select.
func (h *HybridRetriever) RetrieveWithOptions(ctx context.Context, tenantID, query string, opts SearchOptions) (*RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerrors.New("RETRIEVAL_EMPTY_QUERY", "query cannot be empty", ragerrors.ClassValidation)
	}
	if tenantID == "" {
		return nil, ragerrors.New("RETRIEVAL_MISSING_TENANT", "tenant id is required", ragerrors.ClassValidation)
	}

	start := h.now()
	classified := classify.Classify(query)
	params := classify.ParamsFor(classified.Class)

	// Callers keeping the request default defer to the class; an explicit
	// override (the degraded path) wins.
	topK := opts.TopK
	if topK == 0 || topK == models.DefaultTopK {
		topK = params.TopK
	}
	vectorTopK := opts.VectorTopK
	if vectorTopK <= 0 {
		vectorTopK = h.vectorTopK
	}
	lexicalTopK := opts.LexicalTopK
	if lexicalTopK <= 0 {
		lexicalTopK = h.lexicalTopK
	}

	transformed, err := h.transformer.Transform(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		denseMatches []vectorstore.VectorMatch
		denseErr     error
		lexResults   []SearchResult
		lexErr       error
	)

	// Errors are captured instead of returned so the group never cancels
	// the sibling arm.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		matches, err := h.vectors.Query(gctx, tenantID, transformed.Embedding, vectorTopK,
			vectorstore.Filter{DocumentID: opts.DocumentID})
		if err != nil {
			denseErr = err
			return nil
		}
		denseMatches = matches
		return nil
	})
	g.Go(func() error {
		results, err := h.lexical.Search(gctx, tenantID, transformed.Normalized, lexicalTopK, opts.DocumentID)
		if err != nil {
			lexErr = err
			return nil
		}
		lexResults = results
		return nil
	})
	_ = g.Wait()

	switch {
	case denseErr != nil && lexErr != nil:
		return nil, ragerrors.Wrap(denseErr, "RETRIEVAL_ARMS_FAILED",
			"dense and lexical search both failed", ragerrors.ClassTransient)
	case denseErr != nil:
		h.logger.Warn("Dense search failed, continuing with lexical hits only", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     denseErr.Error(),
		})
	case lexErr != nil:
		h.logger.Warn("Lexical search failed, continuing with dense hits only", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     lexErr.Error(),
		})
	}

	merged, index := h.merge(denseMatches, lexResults)
	if len(merged) == 0 {
		return &RetrievalResult{Results: []SearchResult{}, Class: classified.Class, Params: params}, nil
	}

	if err := h.backfill(ctx, merged, index); err != nil {
		return nil, err
	}
	if err := h.score(merged, params); err != nil {
		return nil, err
	}

	final := h.selectTopK(merged, transformed.Embedding, params, topK, opts.ApplyMMR)

	h.logger.Debug("Hybrid retrieval complete", map[string]interface{}{
		"tenant_id":    tenantID,
		"query_class":  string(classified.Class),
		"dense_hits":   len(denseMatches),
		"lexical_hits": len(lexResults),
		"merged":       len(merged),
		"returned":     len(final),
	})
	h.metrics.RecordOperation("retrieval", "hybrid", true, time.Since(start).Seconds(), map[string]string{
		"query_class": string(classified.Class),
	})

	return &RetrievalResult{Results: final, Class: classified.Class, Params: params}, nil
}

// merge combines the two arms' hits by chunk id, dense hits first, keeping
// first-seen order so scoring and tie-breaks stay deterministic.
func (h *HybridRetriever) merge(denseMatches []vectorstore.VectorMatch, lexResults []SearchResult) ([]SearchResult, map[string]int) {
	merged := make([]SearchResult, 0, len(denseMatches)+len(lexResults))
	index := make(map[string]int, len(denseMatches)+len(lexResults))

	for _, match := range denseMatches {
		chunkID := match.Metadata.ChunkID
		if chunkID == "" {
			continue
		}
		if _, seen := index[chunkID]; seen {
			continue
		}
		merged = append(merged, SearchResult{
			ChunkID:      chunkID,
			DocumentID:   match.Metadata.DocumentID,
			Content:      match.Metadata.Content,
			ChunkIndex:   match.Metadata.ChunkIndex,
			SectionTitle: match.Metadata.SectionTitle,
			PageNumber:   match.Metadata.PageNumber,
			DenseScore:   match.Score,
			Embedding:    match.Values,
		})
		index[chunkID] = len(merged) - 1
	}

	for _, result := range lexResults {
		if result.ChunkID == "" {
			continue
		}
		if i, seen := index[result.ChunkID]; seen {
			merged[i].LexicalScore = result.LexicalScore
			continue
		}
		merged = append(merged, result)
		index[result.ChunkID] = len(merged) - 1
	}

	return merged, index
}

// backfill loads created_at, and content where an arm did not carry it, for
// every merged hit.
func (h *HybridRetriever) backfill(ctx context.Context, merged []SearchResult, index map[string]int) error {
	ids := make([]string, len(merged))
	for i := range merged {
		ids[i] = merged[i].ChunkID
	}

	rows, err := h.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return ragerrors.Wrap(err, "RETRIEVAL_BACKFILL",
			"failed to load chunk rows for recency scoring", ragerrors.ClassTransient)
	}

	for _, row := range rows {
		i, ok := index[row.ID]
		if !ok {
			continue
		}
		createdAt := row.CreatedAt
		merged[i].CreatedAt = &createdAt
		if merged[i].Content == "" {
			merged[i].Content = row.Content
		}
	}
	return nil
}

// score normalizes each score family across the merged pool and writes back
// the weighted combination. Chunks a row lookup missed score neutral on
// recency rather than stale.
func (h *HybridRetriever) score(merged []SearchResult, params classify.RetrievalParams) error {
	now := h.now()

	dense := make([]float64, len(merged))
	lexical := make([]float64, len(merged))
	recency := make([]float64, len(merged))
	for i, result := range merged {
		dense[i] = result.DenseScore
		lexical[i] = result.LexicalScore
		recency[i] = scoring.RecencyOrNeutral(result.CreatedAt, now)
	}

	denseNorm := scoring.NormalizeMinMax(dense)
	lexicalNorm := scoring.NormalizeMinMax(lexical)
	recencyNorm := scoring.NormalizeMinMax(recency)

	combined, err := scoring.Combine(denseNorm, lexicalNorm, recencyNorm, scoring.Weights{
		Dense:   params.DenseWeight,
		Lexical: params.LexicalWeight,
		Recency: params.RecencyWeight,
	})
	if err != nil {
		return ragerrors.Wrap(err, "RETRIEVAL_SCORING", "score combination failed", ragerrors.ClassPermanent)
	}

	for i := range merged {
		merged[i].DenseScore = denseNorm[i]
		merged[i].LexicalScore = lexicalNorm[i]
		merged[i].RecencyScore = recencyNorm[i]
		merged[i].Score = combined[i]
	}
	return nil
}

// selectTopK picks the final slate, diversifying with MMR when enabled and
// the pool is larger than topK. MMR needs embeddings, so when too few
// candidates carry one the whole pool falls back to plain score order.
func (h *HybridRetriever) selectTopK(merged []SearchResult, queryEmbedding []float32, params classify.RetrievalParams, topK int, applyMMR bool) []SearchResult {
	if applyMMR && len(merged) > topK {
		embedded := make([]SearchResult, 0, len(merged))
		for _, result := range merged {
			if len(result.Embedding) > 0 {
				embedded = append(embedded, result)
			}
		}
		if len(embedded) >= topK {
			sortByScore(embedded)
			return NewMMR(params.MMRLambda).Rerank(embedded, queryEmbedding, topK)
		}
		h.logger.Warn("Too few embedded candidates for MMR, using score order", map[string]interface{}{
			"embedded": len(embedded),
			"top_k":    topK,
		})
	}

	sortByScore(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// sortByScore orders by combined score descending with deterministic
// tie-breaks on chunk index, then chunk id.
func sortByScore(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
