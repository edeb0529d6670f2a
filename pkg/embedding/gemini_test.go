package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/retry"
)

func newTestGeminiClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewGeminiClient(config.GeminiConfig{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		EmbeddingModel: "embedding-001",
		EmbeddingDim:   768,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
	}, observability.NewNoopLogger())

	// Tests should not sleep through real backoff intervals.
	client.retryPolicy = fastRetryPolicy()
	return client
}

func fastRetryPolicy() retry.Policy {
	return retry.NewExponentialBackoff(retry.Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		Multiplier:      2.0,
		MaxRetries:      2,
	})
}

func embedResponse(dim int, count int) geminiEmbedResponse {
	var resp geminiEmbedResponse
	for i := 0; i < count; i++ {
		values := make([]float32, dim)
		for j := range values {
			values[j] = float32(i) + 0.1
		}
		resp.Embeddings = append(resp.Embeddings, struct {
			Values []float32 `json:"values"`
		}{Values: values})
	}
	return resp
}

func TestGeminiClientEmbedBatch(t *testing.T) {
	var gotPath string
	var gotReq geminiEmbedRequest

	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewEncoder(w).Encode(embedResponse(768, 2)))
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"first", "second"}, TaskTypeDocument)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 768)

	assert.Equal(t, "/v1beta/models/embedding-001:batchEmbedContents", gotPath)
	require.Len(t, gotReq.Requests, 2)
	assert.Equal(t, "models/embedding-001", gotReq.Requests[0].Model)
	assert.Equal(t, "first", gotReq.Requests[0].Content.Parts[0].Text)
	assert.Equal(t, string(TaskTypeDocument), gotReq.Requests[0].TaskType)
}

func TestGeminiClientEmptyInput(t *testing.T) {
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})

	vectors, err := client.EmbedBatch(context.Background(), nil, TaskTypeQuery)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestGeminiClientRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(embedResponse(768, 1)))
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"text"}, TaskTypeQuery)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeminiClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad task type","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := client.EmbedBatch(context.Background(), []string{"text"}, TaskTypeQuery)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, ragerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "bad task type")
}

func TestGeminiClientCountMismatch(t *testing.T) {
	client := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(embedResponse(768, 1)))
	})

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"}, TaskTypeDocument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requested 2 embeddings, got 1")
}

func TestGeminiClientDimension(t *testing.T) {
	client := NewGeminiClient(config.GeminiConfig{EmbeddingDim: 768}, observability.NewNoopLogger())
	assert.Equal(t, 768, client.Dimension())

	defaulted := NewGeminiClient(config.GeminiConfig{}, observability.NewNoopLogger())
	assert.Equal(t, 768, defaulted.Dimension())
}
