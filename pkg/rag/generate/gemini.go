package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/retry"
	"github.com/smartramana/ragmesh/pkg/tokenizer"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiGenerator generates answers through the Gemini generateContent
// endpoint. Throttling and server errors are retried with exponential
// backoff (1s, 2s, 4s); invalid requests and auth failures are not.
type GeminiGenerator struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	retryPolicy retry.Policy
	tok         tokenizer.Tokenizer
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewGeminiGenerator creates a generation client from configuration. The
// tokenizer estimates usage when the API omits usage metadata.
func NewGeminiGenerator(cfg config.GeminiConfig, tok tokenizer.Tokenizer, logger observability.Logger, metrics observability.MetricsClient) *GeminiGenerator {
	if logger == nil {
		logger = observability.NewLogger("generate.gemini")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if tok == nil {
		tok = tokenizer.NewSimpleTokenizer(0)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &GeminiGenerator{
		apiKey:  cfg.APIKey,
		model:   cfg.GenerationModel,
		baseURL: baseURL,
		// Request timeouts come from the per-request context; the
		// degradation profile shortens them under load.
		httpClient: &http.Client{},
		retryPolicy: retry.NewExponentialBackoff(retry.Config{
			InitialInterval: 1 * time.Second,
			MaxInterval:     8 * time.Second,
			MaxElapsedTime:  2 * time.Minute,
			Multiplier:      2.0,
			MaxRetries:      maxRetries,
		}),
		tok:     tok,
		logger:  logger,
		metrics: metrics,
	}
}

type geminiGenerateRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate produces an answer for the prompt pair. Gemini has no separate
// system role, so the system prompt is prepended to the user prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	req.ApplyDefaults()
	if strings.TrimSpace(req.User) == "" {
		return nil, ragerrors.New("GENERATE_EMPTY_PROMPT", "user prompt cannot be empty", ragerrors.ClassValidation)
	}

	fullPrompt := req.User
	if req.System != "" {
		fullPrompt = req.System + "\n\n" + req.User
	}

	body := geminiGenerateRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: fullPrompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := retry.ExecuteWithResult(ctx, g.retryPolicy, func(ctx context.Context) (*geminiGenerateResponse, error) {
		return g.doRequest(ctx, body)
	})
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		g.metrics.RecordOperation("generate", "generate_content", false, latencyMs/1000.0, map[string]string{"model": g.model})
		return nil, err
	}

	answer, err := extractAnswer(resp)
	if err != nil {
		return nil, err
	}

	usage := g.resolveUsage(resp.UsageMetadata, fullPrompt, answer)

	g.logger.Info("Answer generation complete", map[string]interface{}{
		"model":         g.model,
		"latency_ms":    latencyMs,
		"answer_length": len(answer),
		"total_tokens":  usage.TotalTokens,
	})
	g.metrics.RecordOperation("generate", "generate_content", true, latencyMs/1000.0, map[string]string{"model": g.model})

	return &GenerationResult{
		Answer:    answer,
		Usage:     usage,
		LatencyMs: latencyMs,
		Model:     g.model,
	}, nil
}

func (g *GeminiGenerator) doRequest(ctx context.Context, reqBody geminiGenerateRequest) (*geminiGenerateResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, ragerrors.Wrap(err, "GENERATE_MARSHAL", "failed to marshal generation request", ragerrors.ClassPermanent)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, ragerrors.Wrap(err, "GENERATE_REQUEST", "failed to build generation request", ragerrors.ClassPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, ragerrors.Wrap(err, "GENERATE_TRANSPORT", "generation request failed", ragerrors.ClassTransient)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerrors.Wrap(err, "GENERATE_READ", "failed to read generation response", ragerrors.ClassTransient)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp geminiErrorResponse
		message := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, ragerrors.New("GENERATE_API_ERROR",
			fmt.Sprintf("generation API returned %d: %s", resp.StatusCode, message),
			ragerrors.ClassifyHTTPStatus(resp.StatusCode))
	}

	var genResp geminiGenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, ragerrors.Wrap(err, "GENERATE_DECODE", "failed to decode generation response", ragerrors.ClassPermanent)
	}
	return &genResp, nil
}

// extractAnswer joins the text parts of the first candidate. A response with
// no candidates usually means the prompt was blocked, which retrying the
// same prompt cannot fix.
func extractAnswer(resp *geminiGenerateResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", ragerrors.New("GENERATE_NO_CANDIDATES", "generation returned no candidates", ragerrors.ClassPermanent)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// resolveUsage prefers the API's usage metadata and falls back to a
// tokenizer estimate when it is absent.
func (g *GeminiGenerator) resolveUsage(meta *geminiUsageMetadata, prompt, answer string) models.TokenUsage {
	if meta != nil {
		return models.TokenUsage{
			PromptTokens:     meta.PromptTokenCount,
			CompletionTokens: meta.CandidatesTokenCount,
			TotalTokens:      meta.TotalTokenCount,
		}
	}
	promptTokens := g.tok.CountTokens(prompt)
	completionTokens := g.tok.CountTokens(answer)
	return models.TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
