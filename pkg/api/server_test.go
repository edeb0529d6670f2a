package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

type fakeChat struct {
	gotReq models.ChatRequest
	resp   *models.AnswerResponse
	err    error
}

func (f *fakeChat) Answer(ctx context.Context, req models.ChatRequest) (*models.AnswerResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeFeedback struct {
	gotInteraction uuid.UUID
	gotRating      int
	gotComment     *string
	fb             *models.Feedback
	err            error
}

func (f *fakeFeedback) Submit(ctx context.Context, interactionID uuid.UUID, rating int, comment *string) (*models.Feedback, error) {
	f.gotInteraction = interactionID
	f.gotRating = rating
	f.gotComment = comment
	if f.err != nil {
		return nil, f.err
	}
	return f.fb, nil
}

type fakeDocuments struct {
	gotTenant   string
	gotFilename string
	gotSize     int64
	gotMIME     string
	gotContent  []byte
	uploaded    *models.Document
	uploadErr   error

	gotID  uuid.UUID
	doc    *models.Document
	getErr error

	gotLimit  int
	gotOffset int
	list      []models.Document
	listErr   error

	deleted   []uuid.UUID
	deleteErr error
}

func (f *fakeDocuments) Upload(ctx context.Context, tenantID, filename string, size int64, contentType string, r io.Reader) (*models.Document, error) {
	f.gotTenant = tenantID
	f.gotFilename = filename
	f.gotSize = size
	f.gotMIME = contentType
	f.gotContent, _ = io.ReadAll(r)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploaded, nil
}

func (f *fakeDocuments) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Document, error) {
	f.gotTenant = tenantID
	f.gotID = id
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.doc, nil
}

func (f *fakeDocuments) List(ctx context.Context, tenantID string, limit, offset int) ([]models.Document, error) {
	f.gotTenant = tenantID
	f.gotLimit = limit
	f.gotOffset = offset
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeDocuments) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	f.gotTenant = tenantID
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type apiFixture struct {
	chat      *fakeChat
	feedback  *fakeFeedback
	documents *fakeDocuments
	dbErr     error
	redisErr  error
	server    *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fx := &apiFixture{
		chat:      &fakeChat{},
		feedback:  &fakeFeedback{},
		documents: &fakeDocuments{},
	}
	metrics := observability.NewMetricsClient("ragmesh_test")
	fx.server = NewServer(config.APIConfig{ListenAddress: ":0"}, Deps{
		Chat:      fx.chat,
		Feedback:  fx.feedback,
		Documents: fx.documents,
		DB:        PingerFunc(func(ctx context.Context) error { return fx.dbErr }),
		Redis:     PingerFunc(func(ctx context.Context) error { return fx.redisErr }),
		Registry:  metrics.Registry(),
		Metrics:   metrics,
	})
	return fx
}

func (fx *apiFixture) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(w, req)
	return w
}

func jsonHeaders(tenant string) map[string]string {
	return map[string]string{
		"X-Tenant-ID":  tenant,
		"Content-Type": "application/json",
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthzReadyWhenDependenciesRespond(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/healthz", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.True(t, resp.Services["postgresql"].Healthy)
	assert.True(t, resp.Services["redis"].Healthy)
	assert.Equal(t, "connected", resp.Services["redis"].Status)
}

func TestHealthzNotReadyWhenRedisDown(t *testing.T) {
	fx := newAPIFixture(t)
	fx.redisErr = context.DeadlineExceeded

	w := fx.do(t, http.MethodGet, "/healthz", nil, nil)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.True(t, resp.Services["postgresql"].Healthy)
	assert.Equal(t, "disconnected", resp.Services["redis"].Status)
	assert.NotEmpty(t, resp.Services["redis"].Error)
}

func TestHealthzSkipsUnconfiguredDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(config.APIConfig{ListenAddress: ":0"}, Deps{})

	req, err := http.NewRequest(http.MethodGet, "/healthz", nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Empty(t, resp.Services)
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	fx := newAPIFixture(t)

	// Drive one request through the middleware chain first.
	fx.do(t, http.MethodGet, "/healthz", nil, nil)

	w := fx.do(t, http.MethodGet, "/metrics", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestHealthzDoesNotRequireTenantHeader(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/api/v1/nope", nil, jsonHeaders("tenant-a"))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/healthz", nil, nil)

	generated := w.Header().Get("X-Request-ID")
	require.NotEmpty(t, generated)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)

	w = fx.do(t, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "req-42"})
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodPost, "/api/v1/chat", strings.NewReader("{"), map[string]string{
		"X-Tenant-ID":  "tenant-a",
		"Content-Type": "application/json",
		"X-Request-ID": "req-99",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "req-99", resp.RequestID)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Error)
}
