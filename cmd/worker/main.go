package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/smartramana/ragmesh/pkg/chunking"
	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/embedding"
	"github.com/smartramana/ragmesh/pkg/ingestion"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/redisclient"
	"github.com/smartramana/ragmesh/pkg/rowstore"
	"github.com/smartramana/ragmesh/pkg/tokenizer"
	"github.com/smartramana/ragmesh/pkg/vectorstore"
)

func main() {
	// SIGTERM cancels the context; the pool drains in-flight documents
	// before Run returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("worker")
	metrics := observability.NewMetricsClient("ragmesh_worker")

	db, err := database.New(ctx, cfg.Database, logger.WithPrefix("database"))
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to apply database schema: %v", err)
	}

	rawRedis, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	redisClient := redisclient.NewResilientClient(rawRedis, logger.WithPrefix("redis"), metrics)
	defer func() { _ = redisClient.Close() }()

	tok := tokenizer.NewSimpleTokenizer(cfg.Budget.ModelMaxTokens)
	chunker := chunking.NewSemanticChunker(tok, chunking.Config{
		MinChunkTokens: cfg.Chunking.MinChunkTokens,
		MaxChunkTokens: cfg.Chunking.MaxChunkTokens,
		OverlapTokens:  cfg.Chunking.OverlapTokens,
	}, logger)

	embedClient := embedding.NewGeminiClient(cfg.Gemini, logger)
	embedCache := embedding.NewRedisCache(redisClient, logger, metrics)
	embedder := embedding.NewService(embedClient, embedCache, logger, metrics)

	documents := rowstore.NewDocumentRepository(db, logger)
	chunks := rowstore.NewChunkRepository(db, logger)
	vectors := vectorstore.NewPgVectorStore(db, logger, metrics)
	storage := ingestion.NewLocalStorage(cfg.Storage.BasePath, logger)

	processor := ingestion.NewProcessor(ingestion.ProcessorDeps{
		Documents: documents,
		Chunks:    chunks,
		Vectors:   vectors,
		Parsers:   ingestion.NewParserFactory(logger),
		Chunker:   chunker,
		Embedder:  embedder,
		Storage:   storage,
		Logger:    logger.WithPrefix("processor"),
		Metrics:   metrics,
	})

	queue := ingestion.NewRedisQueue(redisClient, cfg.Worker.QueueName)
	worker := ingestion.NewWorker(queue, processor, cfg.Worker, logger, metrics)

	if err := worker.Run(ctx); err != nil {
		log.Fatalf("Worker exited with error: %v", err)
	}
	logger.Info("Worker stopped", nil)
}
