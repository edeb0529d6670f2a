package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/chunking"
	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/embedding"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/vectorstore"
)

type fakeDocRows struct {
	doc      *models.Document
	getErr   error
	statuses []string
	messages []string
	failOn   string
}

func (f *fakeDocRows) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.doc, nil
}

func (f *fakeDocRows) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage string) error {
	if f.failOn != "" && status == f.failOn {
		return errors.New("db down")
	}
	f.statuses = append(f.statuses, status)
	f.messages = append(f.messages, errorMessage)
	return nil
}

type fakeChunker struct {
	chunks      []chunking.Chunk
	err         error
	gotSections []chunking.Section
}

func (f *fakeChunker) Chunk(ctx context.Context, sections []chunking.Section) ([]chunking.Chunk, error) {
	f.gotSections = sections
	if f.err != nil {
		return nil, f.err
	}
	out := make([]chunking.Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out, nil
}

type fakeEmbedder struct {
	err       error
	short     bool
	gotChunks []chunking.Chunk
}

func (f *fakeEmbedder) EmbedChunks(ctx context.Context, chunks []chunking.Chunk) ([]embedding.EmbeddedChunk, error) {
	f.gotChunks = chunks
	if f.err != nil {
		return nil, f.err
	}
	embedded := make([]embedding.EmbeddedChunk, 0, len(chunks))
	for _, c := range chunks {
		embedded = append(embedded, embedding.EmbeddedChunk{Chunk: c, Embedding: []float32{0.1, 0.2}})
	}
	if f.short && len(embedded) > 0 {
		embedded = embedded[:len(embedded)-1]
	}
	return embedded, nil
}

type fakeChunkWriter struct {
	err       error
	gotChunks []chunking.Chunk
	ops       *[]string
}

func (f *fakeChunkWriter) InsertBatch(ctx context.Context, chunks []chunking.Chunk) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.gotChunks = chunks
	if f.ops != nil {
		*f.ops = append(*f.ops, "rows")
	}
	return len(chunks), nil
}

type fakeVectorWriter struct {
	err        error
	gotTenant  string
	gotRecords []vectorstore.VectorRecord
	ops        *[]string
}

func (f *fakeVectorWriter) Upsert(ctx context.Context, tenantID string, records []vectorstore.VectorRecord) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.gotTenant = tenantID
	f.gotRecords = records
	if f.ops != nil {
		*f.ops = append(*f.ops, "vectors")
	}
	return len(records), nil
}

type processorFixture struct {
	rows     *fakeDocRows
	chunker  *fakeChunker
	embedder *fakeEmbedder
	writer   *fakeChunkWriter
	vectors  *fakeVectorWriter
	storage  *fakeUploadStorage
	proc     *Processor
}

func newProcessorFixture() *processorFixture {
	doc := &models.Document{
		ID:               uuid.New(),
		TenantID:         "tenant-a",
		Filename:         "notes.txt",
		StoragePath:      "/data/tenant-a/notes.txt",
		DocumentType:     models.DocumentTypeTXT,
		ProcessingStatus: string(StatusUploaded),
	}
	f := &processorFixture{
		rows: &fakeDocRows{doc: doc},
		chunker: &fakeChunker{chunks: []chunking.Chunk{
			{ChunkIndex: 0, Content: "First paragraph.", ContentHash: "h0", TokenCount: 3, ParentSectionID: "section_0"},
			{ChunkIndex: 1, Content: "Second paragraph.", ContentHash: "h1", TokenCount: 3, ParentSectionID: "section_1"},
		}},
		embedder: &fakeEmbedder{},
		writer:   &fakeChunkWriter{},
		vectors:  &fakeVectorWriter{},
		storage:  &fakeUploadStorage{savedContent: "First paragraph.\n\nSecond paragraph."},
	}
	f.proc = NewProcessor(ProcessorDeps{
		Documents: f.rows,
		Chunks:    f.writer,
		Vectors:   f.vectors,
		Chunker:   f.chunker,
		Embedder:  f.embedder,
		Storage:   f.storage,
	})
	return f
}

func TestProcessHappyPath(t *testing.T) {
	f := newProcessorFixture()
	doc := f.rows.doc

	require.NoError(t, f.proc.Process(context.Background(), doc.ID))

	assert.Equal(t, []string{"PROCESSING", "PARSED", "CHUNKED", "EMBEDDED", "COMPLETED"}, f.rows.statuses)
	require.Len(t, f.chunker.gotSections, 2)

	require.Len(t, f.writer.gotChunks, 2)
	for i, c := range f.writer.gotChunks {
		assert.Equal(t, ChunkID(doc.ID, i), c.ID)
		assert.Equal(t, doc.ID.String(), c.DocumentID)
		assert.Equal(t, "tenant-a", c.TenantID)
	}

	assert.Equal(t, "tenant-a", f.vectors.gotTenant)
	require.Len(t, f.vectors.gotRecords, 2)
	assert.Equal(t, vectorstore.RecordID(doc.ID.String(), 0), f.vectors.gotRecords[0].ID)
	assert.Equal(t, vectorstore.RecordID(doc.ID.String(), 1), f.vectors.gotRecords[1].ID)
}

func TestProcessSkipsCompletedDocument(t *testing.T) {
	f := newProcessorFixture()
	f.rows.doc.ProcessingStatus = string(StatusCompleted)

	require.NoError(t, f.proc.Process(context.Background(), f.rows.doc.ID))

	assert.Empty(t, f.rows.statuses, "completed documents must not be touched")
	assert.Nil(t, f.chunker.gotSections)
}

func TestProcessRestartsFromIntermediateStatus(t *testing.T) {
	f := newProcessorFixture()
	f.rows.doc.ProcessingStatus = string(StatusParsed)

	require.NoError(t, f.proc.Process(context.Background(), f.rows.doc.ID))

	assert.Equal(t, []string{"PROCESSING", "PARSED", "CHUNKED", "EMBEDDED", "COMPLETED"}, f.rows.statuses)
}

func TestProcessUnknownDocumentIsPermanent(t *testing.T) {
	f := newProcessorFixture()
	f.rows.getErr = database.ErrNotFound

	err := f.proc.Process(context.Background(), uuid.New())

	require.Error(t, err)
	assert.Equal(t, ragerrors.ClassPermanent, ragerrors.ClassOf(err))
}

func TestProcessZeroChunksStillCompletes(t *testing.T) {
	f := newProcessorFixture()
	f.chunker.chunks = nil

	require.NoError(t, f.proc.Process(context.Background(), f.rows.doc.ID))

	assert.Equal(t, []string{"PROCESSING", "PARSED", "CHUNKED", "EMBEDDED", "COMPLETED"}, f.rows.statuses)
	assert.Nil(t, f.embedder.gotChunks, "nothing to embed")
	assert.Nil(t, f.writer.gotChunks, "nothing to index")
}

func TestProcessParserUnavailableIsPermanent(t *testing.T) {
	f := newProcessorFixture()
	f.rows.doc.DocumentType = models.DocumentTypePDF

	err := f.proc.Process(context.Background(), f.rows.doc.ID)

	require.Error(t, err)
	assert.Equal(t, ragerrors.ClassPermanent, ragerrors.ClassOf(err))
	assert.Equal(t, []string{"PROCESSING"}, f.rows.statuses)
}

func TestProcessChunkerErrorBecomesTransient(t *testing.T) {
	f := newProcessorFixture()
	f.chunker.err = errors.New("tokenizer exploded")

	err := f.proc.Process(context.Background(), f.rows.doc.ID)

	require.Error(t, err)
	assert.True(t, ragerrors.IsTransient(err))
	assert.Equal(t, []string{"PROCESSING", "PARSED"}, f.rows.statuses)
}

func TestProcessEmbedShortfallIsTransient(t *testing.T) {
	f := newProcessorFixture()
	f.embedder.short = true

	err := f.proc.Process(context.Background(), f.rows.doc.ID)

	require.Error(t, err)
	assert.True(t, ragerrors.IsTransient(err))
	assert.Equal(t, []string{"PROCESSING", "PARSED", "CHUNKED"}, f.rows.statuses)
	assert.Nil(t, f.writer.gotChunks, "a partial embedding batch must not be indexed")
}

func TestProcessInsertsRowsBeforeVectors(t *testing.T) {
	f := newProcessorFixture()
	ops := []string{}
	f.writer.ops = &ops
	f.vectors.ops = &ops

	require.NoError(t, f.proc.Process(context.Background(), f.rows.doc.ID))

	assert.Equal(t, []string{"rows", "vectors"}, ops)
}

func TestProcessVectorUpsertFailureStopsBeforeCompleted(t *testing.T) {
	f := newProcessorFixture()
	f.vectors.err = ragerrors.New("VECTOR_ROWS_MISSING", "rows missing", ragerrors.ClassTransient)

	err := f.proc.Process(context.Background(), f.rows.doc.ID)

	require.Error(t, err)
	assert.True(t, ragerrors.IsTransient(err))
	assert.Equal(t, []string{"PROCESSING", "PARSED", "CHUNKED", "EMBEDDED"}, f.rows.statuses)
}

func TestProcessStatusWriteFailureIsTransient(t *testing.T) {
	f := newProcessorFixture()
	f.rows.failOn = "PARSED"

	err := f.proc.Process(context.Background(), f.rows.doc.ID)

	require.Error(t, err)
	assert.True(t, ragerrors.IsTransient(err))
	assert.Equal(t, []string{"PROCESSING"}, f.rows.statuses)
}

func TestMarkFailedWritesTerminalStatus(t *testing.T) {
	f := newProcessorFixture()
	cause := ragerrors.New("PARSER_UNAVAILABLE", "no parser available for pdf documents in this build", ragerrors.ClassPermanent)

	f.proc.MarkFailed(context.Background(), f.rows.doc.ID, cause)

	require.Equal(t, []string{"FAILED"}, f.rows.statuses)
	assert.Contains(t, f.rows.messages[0], "PARSER_UNAVAILABLE")
}

func TestChunkIDIsDeterministic(t *testing.T) {
	docID := uuid.MustParse("3f2c8f9e-5b1a-4c7d-9e6f-2a8b4c1d0e5f")

	first := ChunkID(docID, 0)
	assert.Equal(t, first, ChunkID(docID, 0))
	assert.NotEqual(t, first, ChunkID(docID, 1))
	assert.NotEqual(t, first, ChunkID(uuid.New(), 0))

	_, err := uuid.Parse(first)
	assert.NoError(t, err, "chunk ids are stored in a uuid column")
}
