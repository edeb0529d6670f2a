// Package api exposes the HTTP surface: chat, feedback, document
// management, health, and Prometheus metrics. Handlers never write error
// bodies themselves; they attach errors to the gin context and the
// ErrorMapper middleware translates them to status codes and the shared
// error envelope.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// ChatService answers questions against the tenant's indexed documents.
type ChatService interface {
	Answer(ctx context.Context, req models.ChatRequest) (*models.AnswerResponse, error)
}

// FeedbackService records ratings for prior interactions.
type FeedbackService interface {
	Submit(ctx context.Context, interactionID uuid.UUID, rating int, comment *string) (*models.Feedback, error)
}

// DocumentService manages the document lifecycle on behalf of a tenant.
type DocumentService interface {
	Upload(ctx context.Context, tenantID, filename string, size int64, contentType string, r io.Reader) (*models.Document, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Document, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]models.Document, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
}

// Pinger reports liveness of a backing dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps carries everything the server routes to.
type Deps struct {
	Chat      ChatService
	Feedback  FeedbackService
	Documents DocumentService

	// DB and Redis back the health endpoint. A nil entry is skipped.
	DB    Pinger
	Redis Pinger

	// Registry serves /metrics when set.
	Registry *prometheus.Registry

	Logger  observability.Logger
	Metrics observability.MetricsClient
}

// Server hosts the REST API.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger observability.Logger
	deps   Deps
}

// NewServer builds the router, wires middleware and routes, and prepares
// the underlying http.Server with the configured timeouts.
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("api")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpMetricsClient()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(deps.Logger))
	router.Use(MetricsMiddleware(deps.Metrics))
	router.Use(ErrorMapper(deps.Logger))

	s := &Server{
		router: router,
		logger: deps.Logger,
		deps:   deps,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	if s.deps.Registry != nil {
		h := promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})
		s.router.GET("/metrics", func(c *gin.Context) {
			h.ServeHTTP(c.Writer, c.Request)
		})
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(TenantRequired())

	v1.POST("/chat", s.chatHandler)
	v1.POST("/feedback", s.feedbackHandler)

	v1.POST("/documents", s.uploadDocumentHandler)
	v1.GET("/documents", s.listDocumentsHandler)
	v1.GET("/documents/:id", s.getDocumentHandler)
	v1.DELETE("/documents/:id", s.deleteDocumentHandler)
}

// Start serves requests until the listener fails or Shutdown is called.
// A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down", nil)
	return s.server.Shutdown(ctx)
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// healthTimeout bounds each dependency probe so a hung backend cannot
// stall the health endpoint.
const healthTimeout = 5 * time.Second

type serviceHealth struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]serviceHealth `json:"services"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	services := make(map[string]serviceHealth)
	ready := true
	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			services[name] = serviceHealth{Status: "disconnected", Error: err.Error()}
			ready = false
			return
		}
		services[name] = serviceHealth{Status: "connected", Healthy: true}
	}
	probe("postgresql", s.deps.DB)
	probe("redis", s.deps.Redis)

	resp := healthResponse{Status: "ready", Services: services}
	status := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
