package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/retry"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient embeds text through the Gemini batchEmbedContents endpoint
type GeminiClient struct {
	apiKey      string
	model       string
	dimension   int
	baseURL     string
	httpClient  *http.Client
	retryPolicy retry.Policy
	logger      observability.Logger
}

// NewGeminiClient creates an embedding client from configuration
func NewGeminiClient(cfg config.GeminiConfig, logger observability.Logger) *GeminiClient {
	if logger == nil {
		logger = observability.NewLogger("embedding.gemini")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	dimension := cfg.EmbeddingDim
	if dimension <= 0 {
		dimension = 768
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &GeminiClient{
		apiKey:    cfg.APIKey,
		model:     cfg.EmbeddingModel,
		dimension: dimension,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryPolicy: retry.NewExponentialBackoff(retry.Config{
			InitialInterval: 1 * time.Second,
			MaxInterval:     60 * time.Second,
			MaxElapsedTime:  5 * time.Minute,
			Multiplier:      2.0,
			MaxRetries:      maxRetries,
		}),
		logger: logger,
	}
}

type geminiEmbedRequest struct {
	Requests []geminiEmbedInstance `json:"requests"`
}

type geminiEmbedInstance struct {
	Model    string        `json:"model"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// EmbedBatch embeds texts in order, retrying throttling and server errors
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	instances := make([]geminiEmbedInstance, len(texts))
	for i, text := range texts {
		instances[i] = geminiEmbedInstance{
			Model:    "models/" + c.model,
			Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType: string(taskType),
		}
	}

	start := time.Now()
	resp, err := retry.ExecuteWithResult(ctx, c.retryPolicy, func(ctx context.Context) (*geminiEmbedResponse, error) {
		return c.doRequest(ctx, geminiEmbedRequest{Requests: instances})
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, ragerrors.Newf("EMBED_COUNT_MISMATCH", ragerrors.ClassPermanent,
			"requested %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	embeddings := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Values) == 0 {
			return nil, ragerrors.Newf("EMBED_EMPTY_VECTOR", ragerrors.ClassPermanent,
				"empty embedding at position %d", i)
		}
		embeddings[i] = e.Values
	}

	c.logger.Debug("Embeddings generated", map[string]interface{}{
		"batch_size": len(texts),
		"task_type":  string(taskType),
		"latency_ms": time.Since(start).Milliseconds(),
	})

	return embeddings, nil
}

// Dimension returns the embedding vector dimension
func (c *GeminiClient) Dimension() int {
	return c.dimension
}

func (c *GeminiClient) doRequest(ctx context.Context, reqBody geminiEmbedRequest) (*geminiEmbedResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, ragerrors.Wrap(err, "EMBED_MARSHAL", "failed to marshal embed request", ragerrors.ClassPermanent)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, ragerrors.Wrap(err, "EMBED_REQUEST", "failed to build embed request", ragerrors.ClassPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ragerrors.Wrap(err, "EMBED_TRANSPORT", "embed request failed", ragerrors.ClassTransient)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerrors.Wrap(err, "EMBED_READ", "failed to read embed response", ragerrors.ClassTransient)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp geminiErrorResponse
		message := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, ragerrors.New("EMBED_API_ERROR",
			fmt.Sprintf("embed API returned %d: %s", resp.StatusCode, message),
			ragerrors.ClassifyHTTPStatus(resp.StatusCode))
	}

	var embedResp geminiEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, ragerrors.Wrap(err, "EMBED_DECODE", "failed to decode embed response", ragerrors.ClassPermanent)
	}
	return &embedResp, nil
}
