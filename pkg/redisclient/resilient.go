package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/retry"
)

// ErrCircuitOpen is returned when the Redis circuit breaker rejects a call.
// Callers that fail open should treat it like a cache miss.
var ErrCircuitOpen = gobreaker.ErrOpenState

// ResilientClient wraps a Redis client with circuit breaker and retry logic.
// Cache misses (redis.Nil) pass through untouched and never trip the breaker.
type ResilientClient struct {
	client      *redis.Client
	breaker     *gobreaker.CircuitBreaker
	retryPolicy retry.Policy
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewResilientClient creates a Redis wrapper guarded by a circuit breaker
func NewResilientClient(
	client *redis.Client,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *ResilientClient {
	if logger == nil {
		logger = observability.NewLogger("redisclient")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	settings := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// A missing key is a valid answer, not a Redis failure.
			return err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Redis circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			metrics.IncrementCounterWithLabels("redis_circuit_transitions_total", 1, map[string]string{
				"to": to.String(),
			})
		},
	}

	retryConfig := retry.Config{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		MaxElapsedTime:  5 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      2,
		RetryIf: func(err error) bool {
			if errors.Is(err, redis.Nil) {
				return false
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return true
		},
	}

	return &ResilientClient{
		client:      client,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		retryPolicy: retry.NewExponentialBackoff(retryConfig),
		logger:      logger,
		metrics:     metrics,
	}
}

// Get retrieves a value. Returns redis.Nil when the key does not exist.
func (r *ResilientClient) Get(ctx context.Context, key string) (string, error) {
	result, err := r.execute(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return r.client.Get(ctx, key).Result()
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Set stores a value with an expiration
func (r *ResilientClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	_, err := r.execute(ctx, "set", func(ctx context.Context) (interface{}, error) {
		return nil, r.client.Set(ctx, key, value, expiration).Err()
	})
	return err
}

// Del deletes keys
func (r *ResilientClient) Del(ctx context.Context, keys ...string) error {
	_, err := r.execute(ctx, "del", func(ctx context.Context) (interface{}, error) {
		return nil, r.client.Del(ctx, keys...).Err()
	})
	return err
}

// Eval executes a Lua script atomically
func (r *ResilientClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return r.execute(ctx, "eval", func(ctx context.Context) (interface{}, error) {
		return r.client.Eval(ctx, script, keys, args...).Result()
	})
}

// LPush pushes values onto the head of a list
func (r *ResilientClient) LPush(ctx context.Context, key string, values ...interface{}) error {
	_, err := r.execute(ctx, "lpush", func(ctx context.Context) (interface{}, error) {
		return nil, r.client.LPush(ctx, key, values...).Err()
	})
	return err
}

// execute runs a Redis operation through the breaker with retries inside
func (r *ResilientClient) execute(ctx context.Context, operation string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return retry.ExecuteWithResult(ctx, r.retryPolicy, fn)
	})
	r.metrics.RecordOperation("redis", operation, err == nil || errors.Is(err, redis.Nil), time.Since(start).Seconds(), nil)
	return result, err
}

// GetClient returns the underlying client for operations the wrapper does not
// cover, such as blocking list pops in the ingestion worker.
func (r *ResilientClient) GetClient() *redis.Client {
	return r.client
}

// Health checks Redis connectivity
func (r *ResilientClient) Health(ctx context.Context) error {
	_, err := r.execute(ctx, "ping", func(ctx context.Context) (interface{}, error) {
		return nil, r.client.Ping(ctx).Err()
	})
	return err
}

// Close closes the underlying client
func (r *ResilientClient) Close() error {
	return r.client.Close()
}
