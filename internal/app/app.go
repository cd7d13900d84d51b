package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Finlytic/internal/api/handlers"
	"github.com/markdave123-py/Finlytic/internal/config"
	"github.com/markdave123-py/Finlytic/internal/core"
	db "github.com/markdave123-py/Finlytic/internal/core/database"
	"github.com/markdave123-py/Finlytic/internal/core/ingestion_engine"
	"github.com/markdave123-py/Finlytic/internal/core/jobstore"
	"github.com/markdave123-py/Finlytic/internal/core/llm"
	objectclient "github.com/markdave123-py/Finlytic/internal/core/object-client"
	"github.com/markdave123-py/Finlytic/internal/core/queue"
)

// App owns every long-lived component and their shutdown order. REDIS_URL
// selects the shared job store and queue backend; without it the app runs
// single-process on the in-memory implementations, which is fine for dev
// and useless behind a load balancer.
type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	JobStore     core.JobStore
	Queue        core.JobQueue
	Server       *Server

	logger      *slog.Logger
	redisClient *redis.Client
	memoryStore *jobstore.MemoryStore
	logCleanup  func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, logCleanup := config.SetupLogger(cfg.LogFile, slog.LevelInfo)

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object client: %w", err)
	}

	app := &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		logger:       logger,
		logCleanup:   logCleanup,
	}

	queueOpts := queue.Options{
		Workers:     cfg.QueueWorkers,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(initCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.redisClient = client
		app.JobStore = jobstore.NewRedisStore(client, cfg.JobTTL)
		app.Queue = queue.NewRedisQueue(client, queueOpts, logger)
		logger.Info("using redis job store and queue")
	} else {
		app.memoryStore = jobstore.NewMemoryStore(cfg.JobTTL)
		app.JobStore = app.memoryStore
		app.Queue = queue.NewMemoryQueue(queueOpts, logger)
		logger.Warn("REDIS_URL not set, using in-memory job store and queue")
	}

	embedder, err := llm.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	llmProvider, err := llm.NewGeminiLLM(initCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	var extractor core.PageExtractor
	if cfg.ExtractBackend == "local" {
		extractor = ingestion_engine.NewLocalExtractor(logger)
		logger.Info("using local docconv extraction backend")
	} else {
		extractor, err = llm.NewGeminiExtractor(initCtx, cfg.AIAPIKey, cfg.ExtractModel)
		if err != nil {
			return nil, fmt.Errorf("extractor: %w", err)
		}
	}

	ingCfg := ingestion_engine.DefaultIngestConfig()
	ingCfg.PagesPerBatch = cfg.PagesPerBatch
	ingCfg.MaxBatches = cfg.MaxBatches
	ingCfg.EmbedDim = cfg.EmbedDim
	ingCfg.PollInterval = cfg.PollInterval
	ingCfg.MaxPollAttempts = cfg.MaxPollAttempts

	worker := ingestion_engine.NewBatchWorker(app.JobStore, objClient, extractor, ingCfg, logger)
	dispatcher := ingestion_engine.NewDispatcher(app.JobStore, app.Queue, objClient, ingCfg, logger)
	indexer := ingestion_engine.NewIndexer(embedder, dbClient, ingCfg, logger)
	streamer := ingestion_engine.NewProgressStreamer(app.JobStore, indexer, ingCfg, logger)

	// Consumers run for the life of the app context.
	go func() {
		if err := app.Queue.Consume(ctx, worker.Process); err != nil && ctx.Err() == nil {
			logger.Error("queue consumer stopped", "error", err)
		}
	}()

	authHandler := handlers.NewAuthHandler(dbClient)
	ingestHandler := handlers.NewIngestHandler(objClient, app.JobStore, dispatcher, streamer, cfg, logger)
	chatHandler := handlers.NewChatHandler(dbClient, embedder, llmProvider)

	app.Server = NewServer(cfg, logger, authHandler, ingestHandler, chatHandler)
	return app, nil
}

func (a *App) Close() {
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.memoryStore != nil {
		a.memoryStore.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
	if a.logCleanup != nil {
		_ = a.logCleanup()
	}
}
