package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

type channelQueue struct {
	entries chan string
}

func newChannelQueue(entries ...string) *channelQueue {
	q := &channelQueue{entries: make(chan string, len(entries)+1)}
	for _, e := range entries {
		q.entries <- e
	}
	return q
}

func (q *channelQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case e := <-q.entries:
		return e, nil
	case <-time.After(timeout):
		return "", redis.Nil
	}
}

type recordingProcessor struct {
	mu        sync.Mutex
	calls     []uuid.UUID
	failed    []uuid.UUID
	lastCause error
	// returns decides the outcome per attempt; nil means always succeed.
	returns func(id uuid.UUID, attempt int) error
}

func (p *recordingProcessor) Process(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	p.calls = append(p.calls, id)
	attempt := 0
	for _, c := range p.calls {
		if c == id {
			attempt++
		}
	}
	p.mu.Unlock()
	if p.returns != nil {
		return p.returns(id, attempt)
	}
	return nil
}

func (p *recordingProcessor) MarkFailed(ctx context.Context, id uuid.UUID, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, id)
	p.lastCause = cause
}

func (p *recordingProcessor) snapshot() (calls, failed []uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID{}, p.calls...), append([]uuid.UUID{}, p.failed...)
}

func (p *recordingProcessor) waitFor(t *testing.T, cond func(calls, failed []uuid.UUID) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls, failed := p.snapshot(); cond(calls, failed) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for worker activity")
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:     1,
		QueueName:       "ingest:test",
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 2 * time.Millisecond,
		ProcessTimeout:  time.Second,
	}
}

func startWorker(t *testing.T, q Dequeuer, p DocumentProcessor, cfg config.WorkerConfig) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWorker(q, p, cfg, nil, nil).Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("worker did not stop after cancel")
		}
	}
}

func TestWorkerProcessesQueueEntriesInOrder(t *testing.T) {
	idA, idB := uuid.New(), uuid.New()
	q := newChannelQueue(idA.String(), idB.String())
	p := &recordingProcessor{}

	stop := startWorker(t, q, p, testWorkerConfig())
	p.waitFor(t, func(calls, failed []uuid.UUID) bool { return len(calls) == 2 })
	stop()

	calls, failed := p.snapshot()
	assert.Equal(t, []uuid.UUID{idA, idB}, calls)
	assert.Empty(t, failed)
}

func TestWorkerRetriesTransientThenMarksFailed(t *testing.T) {
	id := uuid.New()
	q := newChannelQueue(id.String())
	p := &recordingProcessor{
		returns: func(uuid.UUID, int) error {
			return ragerrors.New("PROCESS_EMBED_FAILED", "upstream down", ragerrors.ClassTransient)
		},
	}

	stop := startWorker(t, q, p, testWorkerConfig())
	p.waitFor(t, func(calls, failed []uuid.UUID) bool { return len(failed) == 1 })
	stop()

	calls, failed := p.snapshot()
	assert.Len(t, calls, 3, "two retries on top of the first attempt")
	assert.Equal(t, []uuid.UUID{id}, failed)
	assert.True(t, ragerrors.IsTransient(p.lastCause))
}

func TestWorkerPermanentErrorSkipsRetries(t *testing.T) {
	id := uuid.New()
	q := newChannelQueue(id.String())
	p := &recordingProcessor{
		returns: func(uuid.UUID, int) error {
			return ragerrors.New("PARSER_UNAVAILABLE", "no parser", ragerrors.ClassPermanent)
		},
	}

	stop := startWorker(t, q, p, testWorkerConfig())
	p.waitFor(t, func(calls, failed []uuid.UUID) bool { return len(failed) == 1 })
	stop()

	calls, _ := p.snapshot()
	assert.Len(t, calls, 1, "permanent failures must not burn retries")
}

func TestWorkerRecoversAfterTransientFailure(t *testing.T) {
	id := uuid.New()
	q := newChannelQueue(id.String())
	p := &recordingProcessor{
		returns: func(_ uuid.UUID, attempt int) error {
			if attempt == 1 {
				return ragerrors.New("PROCESS_STATUS_UPDATE_FAILED", "db blip", ragerrors.ClassTransient)
			}
			return nil
		},
	}

	stop := startWorker(t, q, p, testWorkerConfig())
	p.waitFor(t, func(calls, failed []uuid.UUID) bool { return len(calls) == 2 })
	stop()

	_, failed := p.snapshot()
	assert.Empty(t, failed, "a recovered document must not be marked failed")
}

func TestWorkerDiscardsMalformedEntries(t *testing.T) {
	id := uuid.New()
	q := newChannelQueue("not-a-uuid", id.String())
	p := &recordingProcessor{}

	stop := startWorker(t, q, p, testWorkerConfig())
	p.waitFor(t, func(calls, failed []uuid.UUID) bool { return len(calls) == 1 })
	stop()

	calls, failed := p.snapshot()
	assert.Equal(t, []uuid.UUID{id}, calls)
	assert.Empty(t, failed, "malformed entries are dropped, not failed")
}

func TestWorkerStopsOnEmptyQueue(t *testing.T) {
	q := newChannelQueue()
	p := &recordingProcessor{}

	stop := startWorker(t, q, p, testWorkerConfig())
	stop()

	calls, _ := p.snapshot()
	assert.Empty(t, calls)
}
