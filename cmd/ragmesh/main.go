package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/smartramana/ragmesh/pkg/api"
	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/embedding"
	"github.com/smartramana/ragmesh/pkg/ingestion"
	"github.com/smartramana/ragmesh/pkg/monitoring"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/protection"
	"github.com/smartramana/ragmesh/pkg/rag/budget"
	"github.com/smartramana/ragmesh/pkg/rag/chat"
	"github.com/smartramana/ragmesh/pkg/rag/contextopt"
	"github.com/smartramana/ragmesh/pkg/rag/generate"
	"github.com/smartramana/ragmesh/pkg/rag/prompt"
	"github.com/smartramana/ragmesh/pkg/rag/retrieval"
	"github.com/smartramana/ragmesh/pkg/rag/transform"
	"github.com/smartramana/ragmesh/pkg/redisclient"
	"github.com/smartramana/ragmesh/pkg/rowstore"
	"github.com/smartramana/ragmesh/pkg/tokenizer"
	"github.com/smartramana/ragmesh/pkg/vectorstore"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("ragmesh")
	metrics := observability.NewMetricsClient("ragmesh")

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

	// Row and vector indexes.
	documents := rowstore.NewDocumentRepository(db, logger)
	chunks := rowstore.NewChunkRepository(db, logger)
	interactions := rowstore.NewInteractionRepository(db, logger)
	feedback := rowstore.NewFeedbackRepository(db, logger)
	vectors := vectorstore.NewPgVectorStore(db, logger, metrics)

	// Retrieval pipeline.
	embedClient := embedding.NewGeminiClient(cfg.Gemini, logger)
	transformer := transform.NewTransformer(embedClient, redisClient, logger, metrics)
	bm25 := retrieval.NewBM25Search(db)
	retriever := retrieval.NewHybridRetriever(vectors, bm25, chunks, transformer, cfg.Retrieval, logger, metrics)

	// Generation pipeline.
	budgets := budget.NewManager(tok, cfg.Budget, logger)
	optimizer := contextopt.NewOptimizer(budgets, logger, metrics)
	prompts := prompt.NewBuilder(logger)
	generator := generate.NewGeminiGenerator(cfg.Gemini, tok, logger, metrics)
	validator := generate.NewValidator(logger)

	// Admission control. The shedder samples until ctx is canceled.
	shedder := protection.NewLoadShedder(cfg.Protection.Shed, logger, metrics)
	go shedder.Run(ctx)
	limiter := protection.NewRateLimiter(redisClient, cfg.Protection.RateLimit, logger, metrics)
	quota := protection.NewQuotaManager(interactions, cfg.Protection.Quota, logger, metrics)
	breakers := protection.NewBreakerRegistry(cfg.Protection.Breaker, logger, metrics)

	// Accounting.
	costs := monitoring.NewCostTracker(logger)
	collector := monitoring.NewMetricsCollector(metrics, logger)

	chatService := chat.NewService(chat.Deps{
		Shedder:      shedder,
		RateLimiter:  limiter,
		Quota:        quota,
		Retriever:    retriever,
		Budget:       budgets,
		Optimizer:    optimizer,
		Prompts:      prompts,
		Breaker:      breakers.Get("generation"),
		Generator:    generator,
		Validator:    validator,
		Costs:        costs,
		Collector:    collector,
		Documents:    documents,
		Interactions: interactions,
		Logger:       logger.WithPrefix("chat"),
		Metrics:      metrics,
	})
	feedbackService := monitoring.NewFeedbackService(feedback, interactions, logger)

	// Document lifecycle: uploads land on disk and the ingest queue; the
	// worker binary drains the queue.
	storage := ingestion.NewLocalStorage(cfg.Storage.BasePath, logger)
	queue := ingestion.NewRedisQueue(redisClient, cfg.Worker.QueueName)
	manager := ingestion.NewDocumentManager(ingestion.ManagerDeps{
		Documents:      documents,
		Chunks:         chunks,
		Vectors:        vectors,
		Storage:        storage,
		Queue:          queue,
		MaxUploadBytes: int64(cfg.Storage.MaxFileSizeMB) * 1024 * 1024,
		Logger:         logger.WithPrefix("ingestion"),
		Metrics:        metrics,
	})

	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := api.NewServer(cfg.API, api.Deps{
		Chat:      chatService,
		Feedback:  feedbackService,
		Documents: manager,
		DB:        db,
		Redis:     api.PingerFunc(redisClient.Health),
		Registry:  metrics.Registry(),
		Logger:    logger.WithPrefix("api"),
		Metrics:   metrics,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Server stopped", nil)
}
