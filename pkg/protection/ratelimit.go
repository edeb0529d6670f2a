// Package protection implements the admission gates that sit in front of
// the answer pipeline: a per-tenant token bucket, daily usage quotas, a
// circuit breaker around generation, and a load shedder that degrades
// retrieval and generation parameters under system pressure.
package protection

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/redisclient"
)

const rateLimitKeyPrefix = "rate_limit:"

// tokenBucketScript refills and consumes in one atomic step so concurrent
// requests from the same tenant cannot double spend. The current time comes
// in as an argument to keep the script deterministic.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HGETALL', key)
local tokens = rate
local last_refill = now

if #bucket > 0 then
  for i = 1, #bucket, 2 do
    if bucket[i] == 'tokens' then
      tokens = tonumber(bucket[i + 1])
    elseif bucket[i] == 'last_refill' then
      last_refill = tonumber(bucket[i + 1])
    end
  end
end

local elapsed = now - last_refill
if elapsed > 0 then
  tokens = math.min(rate, tokens + (elapsed / window) * rate)
end

if tokens >= 1 then
  tokens = tokens - 1
  redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
  redis.call('EXPIRE', key, window * 2)
  return {1, math.floor(tokens), 0}
end

local retry_after = math.ceil(((1 - tokens) / rate) * window)
return {0, 0, retry_after}
`)

// RateLimiter enforces a per-tenant request rate with a Redis token bucket.
// When Redis is unreachable the limiter fails open: protecting availability
// matters more than enforcing the limit.
type RateLimiter struct {
	redis   *redisclient.ResilientClient
	rate    int
	window  time.Duration
	logger  observability.Logger
	metrics observability.MetricsClient

	now func() time.Time
}

// NewRateLimiter creates a limiter with the configured bucket capacity and
// refill window. Zero config values fall back to 10 requests per 60s.
func NewRateLimiter(
	client *redisclient.ResilientClient,
	cfg config.RateLimitConfig,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *RateLimiter {
	if logger == nil {
		logger = observability.NewLogger("ratelimit")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	rate := cfg.RequestsPerWindow
	if rate <= 0 {
		rate = 10
	}
	window := cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}

	return &RateLimiter{
		redis:   client,
		rate:    rate,
		window:  window,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow consumes one token from the tenant's bucket. It returns nil when the
// request is admitted and a rate limit error carrying the retry delay when
// the bucket is empty. Redis failures admit the request.
func (l *RateLimiter) Allow(ctx context.Context, tenantID string) error {
	key := rateLimitKeyPrefix + tenantID
	nowSeconds := float64(l.now().UnixNano()) / float64(time.Second)

	// The script runs on the raw client: EVALSHA with an EVAL fallback on
	// first use, and the fail-open path below covers breaker behavior.
	reply, err := tokenBucketScript.Run(ctx, l.redis.GetClient(),
		[]string{key}, l.rate, l.window.Seconds(), nowSeconds).Result()
	if err != nil {
		return l.failOpen(tenantID, err)
	}

	allowed, remaining, retryAfterSeconds, ok := parseBucketReply(reply)
	if !ok {
		return l.failOpen(tenantID, nil)
	}

	if allowed {
		l.logger.Debug("Request admitted", map[string]interface{}{
			"tenant_id": tenantID,
			"remaining": remaining,
		})
		return nil
	}

	retryAfter := time.Duration(retryAfterSeconds) * time.Second
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	l.logger.Warn("Rate limit exceeded", map[string]interface{}{
		"tenant_id":   tenantID,
		"retry_after": retryAfter.String(),
	})
	l.metrics.IncrementCounter("rag_rate_limited_total", 1)

	rle := &ragerrors.RateLimitError{TenantID: tenantID, RetryAfter: retryAfter}
	return rle.Classified()
}

// Reset drops the tenant's bucket so the next request starts from a full one
func (l *RateLimiter) Reset(ctx context.Context, tenantID string) error {
	return l.redis.Del(ctx, rateLimitKeyPrefix+tenantID)
}

func (l *RateLimiter) failOpen(tenantID string, err error) error {
	fields := map[string]interface{}{"tenant_id": tenantID}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.Warn("Rate limiter unavailable, admitting request", fields)
	l.metrics.IncrementCounter("rag_rate_limiter_fail_open_total", 1)
	return nil
}

// parseBucketReply unpacks the {allowed, remaining, retry_after} array the
// token bucket script returns
func parseBucketReply(reply interface{}) (allowed bool, remaining, retryAfterSeconds int64, ok bool) {
	vals, isSlice := reply.([]interface{})
	if !isSlice || len(vals) != 3 {
		return false, 0, 0, false
	}
	flag, okFlag := vals[0].(int64)
	rem, okRem := vals[1].(int64)
	retry, okRetry := vals[2].(int64)
	if !okFlag || !okRem || !okRetry {
		return false, 0, 0, false
	}
	return flag == 1, rem, retry, true
}
