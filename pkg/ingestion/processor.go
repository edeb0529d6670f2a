package ingestion

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smartramana/ragmesh/pkg/chunking"
	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/embedding"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/vectorstore"
)

// Chunker splits parsed sections into indexable chunks.
type Chunker interface {
	Chunk(ctx context.Context, sections []chunking.Section) ([]chunking.Chunk, error)
}

// ChunkEmbedder embeds chunks, deduplicating and caching by content hash.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []chunking.Chunk) ([]embedding.EmbeddedChunk, error)
}

// DocumentRows is the slice of the document repository the processor uses.
type DocumentRows interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage string) error
}

// ChunkWriter persists chunk rows and their lexical vectors.
type ChunkWriter interface {
	InsertBatch(ctx context.Context, chunks []chunking.Chunk) (int, error)
}

// VectorWriter persists dense vectors.
type VectorWriter interface {
	Upsert(ctx context.Context, tenantID string, records []vectorstore.VectorRecord) (int, error)
}

// ProcessorDeps wires the pipeline processor.
type ProcessorDeps struct {
	Documents DocumentRows
	Chunks    ChunkWriter
	Vectors   VectorWriter
	Parsers   *ParserFactory
	Chunker   Chunker
	Embedder  ChunkEmbedder
	Storage   Storage
	Logger    observability.Logger
	Metrics   observability.MetricsClient
}

// Processor runs one document through parse, chunk, embed, and index,
// advancing the status row at every stage boundary. A retried document
// restarts from the top; every stage is idempotent, so partial progress from
// a crashed attempt is overwritten rather than resumed.
type Processor struct {
	deps    ProcessorDeps
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewProcessor builds a processor, defaulting the observability deps.
func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("ingestion.processor")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpMetricsClient()
	}
	if deps.Parsers == nil {
		deps.Parsers = NewParserFactory(deps.Logger)
	}
	return &Processor{deps: deps, logger: deps.Logger, metrics: deps.Metrics, now: time.Now}
}

// ChunkID derives a stable chunk row id from the document id and chunk index.
// Reprocessing a document therefore collides with its own earlier rows
// instead of duplicating them.
func ChunkID(documentID uuid.UUID, chunkIndex int) string {
	return uuid.NewSHA1(documentID, []byte(strconv.Itoa(chunkIndex))).String()
}

// Process runs the full pipeline for one document. Completed documents are
// skipped. The error class decides whether the worker retries: transient
// errors requeue the stage, permanent ones go straight to MarkFailed.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID) error {
	doc, err := p.deps.Documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ragerrors.Wrap(err, "PROCESS_UNKNOWN_DOCUMENT", "queued document does not exist", ragerrors.ClassPermanent)
		}
		return ragerrors.Wrap(err, "PROCESS_LOAD_FAILED", "failed to load queued document", ragerrors.ClassTransient)
	}

	current := Status(doc.ProcessingStatus)
	if current == StatusCompleted {
		p.logger.Info("Document already processed, skipping", map[string]interface{}{
			"document_id": documentID.String(),
		})
		return nil
	}

	start := p.now()
	if current, err = p.advance(ctx, doc.ID, current, StatusProcessing); err != nil {
		return err
	}

	sections, parseMs, err := p.parse(ctx, doc)
	if err != nil {
		return err
	}
	if current, err = p.advance(ctx, doc.ID, current, StatusParsed); err != nil {
		return err
	}

	chunks, chunkMs, err := p.chunk(ctx, doc, sections)
	if err != nil {
		return err
	}
	if current, err = p.advance(ctx, doc.ID, current, StatusChunked); err != nil {
		return err
	}

	if len(chunks) == 0 {
		// Nothing to embed or index. The document still completes so the
		// tenant sees a terminal status instead of a stuck one.
		if current, err = p.advance(ctx, doc.ID, current, StatusEmbedded); err != nil {
			return err
		}
		if _, err = p.advance(ctx, doc.ID, current, StatusCompleted); err != nil {
			return err
		}
		p.metrics.IncrementCounterWithLabels("ingest_documents_total", 1, map[string]string{"status": "completed"})
		p.logger.Warn("Document produced no chunks", map[string]interface{}{
			"document_id": documentID.String(),
			"filename":    doc.Filename,
		})
		return nil
	}

	embedded, embedMs, err := p.embed(ctx, chunks)
	if err != nil {
		return err
	}
	if current, err = p.advance(ctx, doc.ID, current, StatusEmbedded); err != nil {
		return err
	}

	indexMs, err := p.index(ctx, doc, chunks, embedded)
	if err != nil {
		return err
	}
	if _, err = p.advance(ctx, doc.ID, current, StatusCompleted); err != nil {
		return err
	}

	p.metrics.IncrementCounterWithLabels("ingest_documents_total", 1, map[string]string{"status": "completed"})
	p.logger.Info("Document processed", map[string]interface{}{
		"document_id": documentID.String(),
		"tenant_id":   doc.TenantID,
		"filename":    doc.Filename,
		"chunks":      len(chunks),
		"parse_ms":    parseMs,
		"chunk_ms":    chunkMs,
		"embed_ms":    embedMs,
		"index_ms":    indexMs,
		"total_ms":    p.sinceMs(start),
	})
	return nil
}

// MarkFailed records terminal failure after the worker's retry budget is
// spent. Failures of the status write itself are logged and dropped; there
// is no better place left to put them.
func (p *Processor) MarkFailed(ctx context.Context, documentID uuid.UUID, cause error) {
	if err := p.deps.Documents.UpdateStatus(ctx, documentID, string(StatusFailed), cause.Error()); err != nil {
		p.logger.Error("Failed to mark document as failed", map[string]interface{}{
			"document_id": documentID.String(),
			"cause":       cause.Error(),
			"error":       err.Error(),
		})
		return
	}
	p.metrics.IncrementCounterWithLabels("ingest_documents_total", 1, map[string]string{"status": "failed"})
	p.logger.Error("Document processing failed permanently", map[string]interface{}{
		"document_id": documentID.String(),
		"error":       cause.Error(),
	})
}

func (p *Processor) parse(ctx context.Context, doc *models.Document) ([]chunking.Section, float64, error) {
	start := p.now()
	parser, err := p.deps.Parsers.ParserFor(doc.DocumentType)
	if err != nil {
		return nil, 0, err
	}
	rc, err := p.deps.Storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, 0, err
	}
	sections, err := parser.Parse(ctx, rc)
	rc.Close()
	if err != nil {
		return nil, 0, classifyStage(err, "PROCESS_PARSE_FAILED", "failed to parse document")
	}
	ms := p.stageDone("parse", start)
	return sections, ms, nil
}

func (p *Processor) chunk(ctx context.Context, doc *models.Document, sections []chunking.Section) ([]chunking.Chunk, float64, error) {
	start := p.now()
	chunks, err := p.deps.Chunker.Chunk(ctx, sections)
	if err != nil {
		return nil, 0, classifyStage(err, "PROCESS_CHUNK_FAILED", "failed to chunk document")
	}
	for i := range chunks {
		chunks[i].ID = ChunkID(doc.ID, chunks[i].ChunkIndex)
		chunks[i].DocumentID = doc.ID.String()
		chunks[i].TenantID = doc.TenantID
	}
	stats, err := chunking.ValidateHierarchy(chunks)
	if err != nil {
		return nil, 0, ragerrors.Wrap(err, "PROCESS_CHUNK_INVALID", "chunker emitted an inconsistent hierarchy", ragerrors.ClassPermanent)
	}
	p.metrics.IncrementCounter("ingest_chunks_total", float64(len(chunks)))
	p.logger.Debug("Document chunked", map[string]interface{}{
		"document_id": doc.ID.String(),
		"chunks":      stats.Chunks,
		"sections":    stats.Sections,
		"mean_tokens": stats.MeanTokens,
		"max_tokens":  stats.MaxTokens,
	})
	ms := p.stageDone("chunk", start)
	return chunks, ms, nil
}

func (p *Processor) embed(ctx context.Context, chunks []chunking.Chunk) ([]embedding.EmbeddedChunk, float64, error) {
	start := p.now()
	embedded, err := p.deps.Embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, 0, classifyStage(err, "PROCESS_EMBED_FAILED", "failed to embed chunks")
	}
	// Indexing fewer vectors than chunks would silently shrink recall for
	// this document, so a partial batch fails the stage for a retry.
	if len(embedded) < len(chunks) {
		return nil, 0, ragerrors.Newf("PROCESS_EMBED_INCOMPLETE", ragerrors.ClassTransient,
			"embedded %d of %d chunks", len(embedded), len(chunks))
	}
	ms := p.stageDone("embed", start)
	return embedded, ms, nil
}

// index writes chunk rows before vectors: the dense index updates embeddings
// onto existing rows, so row insert must land first.
func (p *Processor) index(ctx context.Context, doc *models.Document, chunks []chunking.Chunk, embedded []embedding.EmbeddedChunk) (float64, error) {
	start := p.now()
	inserted, err := p.deps.Chunks.InsertBatch(ctx, chunks)
	if err != nil {
		return 0, classifyStage(err, "PROCESS_INDEX_FAILED", "failed to insert chunk rows")
	}
	stored, err := p.deps.Vectors.Upsert(ctx, doc.TenantID, vectorstore.RecordsFromChunks(embedded))
	if err != nil {
		return 0, err
	}
	p.logger.Debug("Document indexed", map[string]interface{}{
		"document_id":    doc.ID.String(),
		"rows_inserted":  inserted,
		"vectors_stored": stored,
	})
	return p.stageDone("index", start), nil
}

// advance moves the FSM one step and returns the new state. Every transition
// is written through immediately so a crash leaves a resumable status.
func (p *Processor) advance(ctx context.Context, id uuid.UUID, current, next Status) (Status, error) {
	if !current.CanTransition(next) {
		return current, ragerrors.Newf("PROCESS_BAD_TRANSITION", ragerrors.ClassPermanent,
			"illegal status transition %s to %s", current, next)
	}
	if err := p.deps.Documents.UpdateStatus(ctx, id, string(next), ""); err != nil {
		return current, ragerrors.Wrap(err, "PROCESS_STATUS_UPDATE_FAILED", "failed to advance document status", ragerrors.ClassTransient)
	}
	return next, nil
}

func (p *Processor) stageDone(stage string, start time.Time) float64 {
	elapsed := p.now().Sub(start)
	p.metrics.RecordHistogram("ingest_stage_seconds", elapsed.Seconds(), map[string]string{"stage": stage})
	return float64(elapsed.Microseconds()) / 1000.0
}

func (p *Processor) sinceMs(start time.Time) float64 {
	return float64(p.now().Sub(start).Microseconds()) / 1000.0
}

// classifyStage keeps an already classified error intact and wraps anything
// else as transient, matching the retry-then-fail posture of the worker.
func classifyStage(err error, code, message string) error {
	if ragerrors.ClassOf(err) != ragerrors.ClassUnknown {
		return err
	}
	return ragerrors.Wrap(err, code, message, ragerrors.ClassTransient)
}
