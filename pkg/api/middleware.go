package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smartramana/ragmesh/pkg/database"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

const (
	requestIDHeader = "X-Request-ID"
	tenantHeader    = "X-Tenant-ID"

	requestIDKey = "request_id"
	tenantKey    = "tenant_id"
)

// ErrorResponse is the error envelope of every non-2xx reply.
type ErrorResponse struct {
	Error      string                 `json:"error"`
	StatusCode int                    `json:"status_code"`
	RequestID  string                 `json:"request_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// RequestID propagates the caller's X-Request-ID or generates one. The id
// is echoed on the response and carried in the gin context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NewLogger("api")
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":  c.ClientIP(),
			"request_id": requestIDFrom(c),
		}
		if tenant := c.GetString(tenantKey); tenant != "" {
			fields["tenant_id"] = tenant
		}
		logger.Info("Request handled", fields)
	}
}

// MetricsMiddleware records request counts and latency per route. The
// route template is used instead of the raw path to keep label
// cardinality bounded.
func MetricsMiddleware(metrics observability.MetricsClient) gin.HandlerFunc {
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := map[string]string{
			"method": c.Request.Method,
			"path":   route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		metrics.IncrementCounterWithLabels("http_requests_total", 1, labels)
		metrics.RecordHistogram("http_request_duration_seconds", time.Since(start).Seconds(), labels)
	}
}

// TenantRequired rejects requests without a usable X-Tenant-ID header.
// Handlers read the tenant from the gin context, never from the header.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := strings.TrimSpace(c.GetHeader(tenantHeader))
		if tenant == "" {
			abortWithError(c, http.StatusUnauthorized, "X-Tenant-ID header is required")
			return
		}
		if len(tenant) > models.MaxTenantIDLen {
			abortWithError(c, http.StatusUnauthorized, "X-Tenant-ID header exceeds "+strconv.Itoa(models.MaxTenantIDLen)+" characters")
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

func tenantFrom(c *gin.Context) string {
	return c.GetString(tenantKey)
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:      message,
		StatusCode: status,
		RequestID:  requestIDFrom(c),
	})
}

// ErrorMapper translates errors attached by handlers into status codes
// and the error envelope. Rate limit errors carry Retry-After, quota
// errors carry X-Quota-Reset. This is the single place request errors
// are logged.
func ErrorMapper(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NewLogger("api")
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status := statusFor(err)

		if d := ragerrors.RetryAfter(err); d > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
		if resetAt, ok := ragerrors.QuotaResetAt(err); ok {
			c.Header("X-Quota-Reset", resetAt.UTC().Format(time.RFC3339))
		}

		resp := ErrorResponse{
			Error:      errorMessage(err, status),
			StatusCode: status,
			RequestID:  requestIDFrom(c),
		}
		var ce *ragerrors.ClassifiedError
		if errors.As(err, &ce) && len(ce.Details) > 0 && status != http.StatusInternalServerError {
			resp.Details = ce.Details
		}

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": resp.RequestID,
			"error":      err.Error(),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("Request failed", fields)
		} else {
			logger.Warn("Request rejected", fields)
		}

		c.JSON(status, resp)
	}
}

func statusFor(err error) int {
	switch {
	case ragerrors.IsValidation(err):
		return http.StatusBadRequest
	case ragerrors.IsNotFound(err) || errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case ragerrors.IsRateLimited(err) || ragerrors.IsQuotaExceeded(err):
		return http.StatusTooManyRequests
	case ragerrors.IsCircuitOpen(err) || ragerrors.IsOverloaded(err):
		return http.StatusServiceUnavailable
	case ragerrors.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage keeps classified messages for client errors but hides the
// cause chain on internal failures.
func errorMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "an unexpected error occurred while processing the request"
	}
	var ce *ragerrors.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
