package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/retry"
)

// dequeueTimeout bounds each blocking pop so consumers notice shutdown.
const dequeueTimeout = 5 * time.Second

// Dequeuer is the consuming side of the ingestion queue.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

// DocumentProcessor drives one dequeued document through the pipeline.
type DocumentProcessor interface {
	Process(ctx context.Context, documentID uuid.UUID) error
	MarkFailed(ctx context.Context, documentID uuid.UUID, cause error)
}

// Worker consumes the ingestion queue with a fixed pool of consumers. Each
// document gets a bounded processing window and a transient-only retry
// budget; when both are spent it is marked FAILED. A shutdown mid-document
// leaves the status row on a resumable state for a requeue.
type Worker struct {
	queue     Dequeuer
	processor DocumentProcessor
	cfg       config.WorkerConfig
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewWorker builds a worker pool over the queue and processor.
func NewWorker(queue Dequeuer, processor DocumentProcessor, cfg config.WorkerConfig, logger observability.Logger, metrics observability.MetricsClient) *Worker {
	if logger == nil {
		logger = observability.NewLogger("ingestion.worker")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = 8 * time.Second
	}
	return &Worker{queue: queue, processor: processor, cfg: cfg, logger: logger, metrics: metrics}
}

// Run blocks consuming the queue until ctx is canceled, then returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Ingestion worker pool starting", map[string]interface{}{
		"concurrency": w.cfg.Concurrency,
		"queue":       w.cfg.QueueName,
	})
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		i := i
		g.Go(func() error {
			w.consume(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			w.logger.Info("Ingestion consumer stopped", map[string]interface{}{"worker": worker})
			return
		}

		raw, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("Failed to dequeue document", map[string]interface{}{
				"worker": worker,
				"error":  err.Error(),
			})
			w.sleep(ctx, time.Second)
			continue
		}
		w.handle(ctx, raw)
	}
}

// handle runs one queue entry to a terminal outcome. Transient failures
// retry with jittered exponential backoff inside the document's processing
// window; permanent ones and spent budgets mark the document FAILED.
func (w *Worker) handle(ctx context.Context, raw string) {
	documentID, err := uuid.Parse(raw)
	if err != nil {
		w.metrics.IncrementCounter("ingest_queue_discards_total", 1)
		w.logger.Error("Discarding malformed queue entry", map[string]interface{}{
			"entry": raw,
		})
		return
	}

	procCtx, cancel := context.WithTimeout(ctx, w.cfg.ProcessTimeout)
	defer cancel()

	policy := retry.NewExponentialBackoff(retry.Config{
		InitialInterval: w.cfg.RetryBackoff,
		MaxInterval:     w.cfg.RetryBackoffMax,
		MaxElapsedTime:  w.cfg.ProcessTimeout,
		Multiplier:      2.0,
		MaxRetries:      w.cfg.MaxRetries,
	})
	err = policy.Execute(procCtx, func(ctx context.Context) error {
		return w.processor.Process(ctx, documentID)
	})
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutdown, not failure. The document resumes from its current
		// status when requeued.
		return
	}

	// MarkFailed must outlive the processing context that just expired.
	failCtx, cancelFail := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFail()
	w.processor.MarkFailed(failCtx, documentID, err)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
