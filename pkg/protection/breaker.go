package protection

import (
	"sync"
	"time"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// Breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Breaker guards one downstream service with a failure-window circuit
// breaker. CLOSED trips to OPEN when the threshold number of failures lands
// inside the rolling window. OPEN rejects until the open timeout passes,
// then HALF_OPEN lets probes through: the configured number of consecutive
// successes closes the circuit, any failure reopens it.
//
// The generation path uses this instead of the gobreaker wrapper around
// Redis because admission and outcome are recorded at different points of
// the pipeline, not around a single closure.
type Breaker struct {
	name             string
	failureThreshold int
	failureWindow    time.Duration
	openTimeout      time.Duration
	successThreshold int
	logger           observability.Logger
	metrics          observability.MetricsClient

	mu        sync.Mutex
	state     string
	failures  []time.Time
	successes int
	openedAt  time.Time

	now func() time.Time
}

// NewBreaker creates a breaker named after the service it protects. Zero
// config values fall back to 5 failures in 60s, a 60s open timeout and 2
// closing successes.
func NewBreaker(name string, cfg config.BreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *Breaker {
	if logger == nil {
		logger = observability.NewLogger("breaker")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	b := &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		failureWindow:    cfg.FailureWindow,
		openTimeout:      cfg.OpenTimeout,
		successThreshold: cfg.SuccessThreshold,
		logger:           logger,
		metrics:          metrics,
		state:            StateClosed,
		now:              time.Now,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = 5
	}
	if b.failureWindow <= 0 {
		b.failureWindow = 60 * time.Second
	}
	if b.openTimeout <= 0 {
		b.openTimeout = 60 * time.Second
	}
	if b.successThreshold <= 0 {
		b.successThreshold = 2
	}
	return b
}

// Allow reports whether a call may proceed. An expired OPEN state moves to
// HALF_OPEN here, so recovery needs no background timer.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.transition(StateHalfOpen)
		b.successes = 0
	}

	if b.state == StateOpen {
		b.logger.Warn("Circuit open, rejecting request", map[string]interface{}{
			"breaker": b.name,
			"elapsed": b.now().Sub(b.openedAt).String(),
		})
		return ragerrors.Newf("CIRCUIT_OPEN", ragerrors.ClassCircuitBreaker,
			"circuit breaker %s is open", b.name).
			WithDetail("breaker", b.name)
	}
	return nil
}

// RecordSuccess counts a successful call. In HALF_OPEN enough consecutive
// successes close the circuit and reset all counters.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.successThreshold {
		b.transition(StateClosed)
		b.failures = nil
		b.successes = 0
		b.openedAt = time.Time{}
	}
}

// RecordFailure counts a failed call. A HALF_OPEN failure reopens the
// circuit immediately; in CLOSED the rolling window decides.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failures = append(b.failures, now)
	b.pruneLocked(now)

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
		b.openedAt = now
		b.successes = 0
	case StateClosed:
		if len(b.failures) >= b.failureThreshold {
			b.transition(StateOpen)
			b.openedAt = now
		}
	}
}

// State returns the current state name
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return b.state
}

// Reset forces the breaker back to CLOSED
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = nil
	b.successes = 0
	b.openedAt = time.Time{}
}

// pruneLocked drops failures older than the rolling window. Callers hold the
// mutex.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.failureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// transition changes state with a log and a metric. Callers hold the mutex.
func (b *Breaker) transition(to string) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	fields := map[string]interface{}{
		"breaker": b.name,
		"from":    from,
		"to":      to,
	}
	if to == StateOpen {
		fields["failures"] = len(b.failures)
		b.logger.Error("Circuit opened", fields)
	} else {
		b.logger.Info("Circuit state change", fields)
	}
	b.metrics.IncrementCounterWithLabels("rag_circuit_transitions_total", 1, map[string]string{
		"breaker": b.name,
		"to":      to,
	})
}

// BreakerRegistry hands out one breaker per downstream service name
type BreakerRegistry struct {
	cfg     config.BreakerConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry. Breakers are created lazily
// with the registry's config on first Get.
func NewBreakerRegistry(cfg config.BreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a service, creating it on first use
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg, r.logger, r.metrics)
		r.breakers[name] = b
	}
	return b
}

// States reports the state of every registered breaker, for health output
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
