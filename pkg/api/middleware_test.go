package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/database"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

func TestTenantHeaderRequired(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/api/v1/documents", nil, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, resp.Error, "X-Tenant-ID")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.RequestID)
}

func TestTenantHeaderWhitespaceRejected(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/api/v1/documents", nil, map[string]string{"X-Tenant-ID": "   "})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTenantHeaderLengthCapped(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/api/v1/documents", nil, map[string]string{
		"X-Tenant-ID": strings.Repeat("a", 256),
	})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, resp.Error, "exceeds")
}

func TestTenantHeaderPassedToServices(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/api/v1/documents", nil, map[string]string{"X-Tenant-ID": "tenant-a"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-a", fx.documents.gotTenant)
}

func TestErrorMapperStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation",
			err:        ragerrors.New("CHAT_INVALID", "query must not be empty", ragerrors.ClassValidation),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not found",
			err:        ragerrors.New("DOCUMENT_NOT_FOUND", "document not found", ragerrors.ClassNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "plain database sentinel",
			err:        database.ErrNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "rate limited",
			err:        (&ragerrors.RateLimitError{TenantID: "tenant-a", RetryAfter: 30 * time.Second}).Classified(),
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "quota exceeded",
			err:        (&ragerrors.QuotaError{TenantID: "tenant-a", Reason: "token budget", ResetAt: time.Now().Add(time.Hour)}).Classified(),
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "circuit open",
			err:        ragerrors.New("GEMINI_UNAVAILABLE", "generation temporarily unavailable", ragerrors.ClassCircuitBreaker),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "overloaded",
			err:        ragerrors.New("SHED_OVERLOAD", "system overloaded", ragerrors.ClassOverloaded),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "transient",
			err:        ragerrors.New("RETRIEVAL_FAILED", "retrieval failed", ragerrors.ClassTransient),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "timeout counts as transient",
			err:        ragerrors.New("GEMINI_TIMEOUT", "generation timed out", ragerrors.ClassTimeout),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newAPIFixture(t)
			fx.chat.err = tt.err

			w := fx.do(t, http.MethodPost, "/api/v1/chat",
				strings.NewReader(`{"query":"hello"}`), jsonHeaders("tenant-a"))

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	fx := newAPIFixture(t)
	fx.chat.err = (&ragerrors.RateLimitError{TenantID: "tenant-a", RetryAfter: 30 * time.Second}).Classified()

	w := fx.do(t, http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"hello"}`), jsonHeaders("tenant-a"))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestQuotaResponseCarriesResetHeader(t *testing.T) {
	resetAt := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	fx := newAPIFixture(t)
	fx.chat.err = (&ragerrors.QuotaError{TenantID: "tenant-a", Reason: "token budget", ResetAt: resetAt}).Classified()

	w := fx.do(t, http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"hello"}`), jsonHeaders("tenant-a"))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2025-06-02T00:00:00Z", w.Header().Get("X-Quota-Reset"))
}

func TestInternalErrorsHideCause(t *testing.T) {
	fx := newAPIFixture(t)
	fx.chat.err = errors.New("pq: password authentication failed")

	w := fx.do(t, http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"hello"}`), jsonHeaders("tenant-a"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.NotContains(t, resp.Error, "password")
	assert.Empty(t, resp.Details)
}

func TestClientErrorsKeepClassifiedMessageAndDetails(t *testing.T) {
	fx := newAPIFixture(t)
	fx.chat.err = ragerrors.New("CHAT_INVALID", "top_k must be between 1 and 20", ragerrors.ClassValidation).
		WithDetail("top_k", 50)

	w := fx.do(t, http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"hello"}`), jsonHeaders("tenant-a"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "top_k must be between 1 and 20", resp.Error)
	require.NotNil(t, resp.Details)
	assert.EqualValues(t, 50, resp.Details["top_k"])
}
