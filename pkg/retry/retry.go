// Package retry provides retry policies built on cenkalti/backoff. The
// generator, the ingestion worker, and the Redis wrapper share these
// policies; retryability of individual errors is decided by the caller
// through RetryIf.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

// Policy defines the retry policy interface
type Policy interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config contains retry configuration
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
	MaxRetries      int
	// RetryIf decides whether an error is retryable. Defaults to the
	// transient classification from the error taxonomy.
	RetryIf func(error) bool
}

// ExponentialBackoff implements an exponential backoff retry policy
type ExponentialBackoff struct {
	config Config
}

// NewExponentialBackoff creates a new exponential backoff retry policy
func NewExponentialBackoff(config Config) *ExponentialBackoff {
	if config.InitialInterval <= 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 30 * time.Second
	}
	if config.MaxElapsedTime <= 0 {
		config.MaxElapsedTime = 5 * time.Minute
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryIf == nil {
		config.RetryIf = ragerrors.IsTransient
	}
	return &ExponentialBackoff{config: config}
}

// Execute runs fn, retrying retryable failures with exponential backoff.
// Non-retryable errors abort immediately and are returned unchanged.
func (e *ExponentialBackoff) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.InitialInterval
	b.MaxInterval = e.config.MaxInterval
	b.Multiplier = e.config.Multiplier
	b.MaxElapsedTime = e.config.MaxElapsedTime

	var policy backoff.BackOff = b
	policy = backoff.WithMaxRetries(policy, uint64(e.config.MaxRetries))
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !e.config.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// ExecuteWithResult runs fn with the given policy and returns its result
func ExecuteWithResult[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := policy.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}
