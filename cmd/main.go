package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RishiKendai/plagcode/internal/api"
	"github.com/RishiKendai/plagcode/internal/blobstore"
	"github.com/RishiKendai/plagcode/internal/cache"
	"github.com/RishiKendai/plagcode/internal/config"
	"github.com/RishiKendai/plagcode/internal/configs/env"
	"github.com/RishiKendai/plagcode/internal/history"
	"github.com/RishiKendai/plagcode/internal/infra/mongo"
	redisInfra "github.com/RishiKendai/plagcode/internal/infra/redis"
	"github.com/RishiKendai/plagcode/internal/logger"
	"github.com/RishiKendai/plagcode/internal/metrics"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/RishiKendai/plagcode/internal/repository"
	"github.com/RishiKendai/plagcode/internal/scan"
	"github.com/RishiKendai/plagcode/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := env.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg("Failed to load .env file, continuing with system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "plagcode"})
	log.Info().
		Str("store", cfg.StoreBackend).
		Str("blobs", cfg.BlobBackend).
		Str("dispatch", cfg.ScanDispatch).
		Msg("Starting plagcode server")

	metrics.InitPrometheus()
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := api.StartServer(metricsMux, cfg.MetricsPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var store *repository.Store
	var blobs blobstore.Store
	var mongoClient *mongo.Client
	if cfg.StoreBackend == config.BackendMongo {
		mongoClient, err = mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create MongoDB client")
		}
		defer mongoClient.Close(context.Background())

		mongoRepo := repository.NewMongoRepository(mongoClient)
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
		}
		store = repository.NewMongoStore(mongoRepo)
	} else {
		store = repository.NewMemoryStore()
	}

	switch cfg.BlobBackend {
	case config.BackendGridFS:
		blobs = blobstore.NewGridFSStore(mongoClient.Database)
	case config.BackendS3:
		blobs, err = blobstore.NewS3Store(blobstore.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 blob store")
		}
	default:
		blobs = blobstore.NewMemoryStore()
	}

	// Redis backs the stream dispatcher and the token/progress caches; only the stream needs it
	redisClient, err := redisInfra.NewClient(ctx, cfg.RedisHost, cfg.RedisPassword, 0)
	if err != nil {
		if cfg.ScanDispatch == config.DispatchStream {
			log.Fatal().Err(err).Msg("Failed to create Redis client")
		}
		log.Warn().Err(err).Msg("Redis unavailable, running without token cache and progress mirror")
		redisClient = nil
	}
	var tokens *cache.TokenCache
	var progress *cache.ProgressMirror
	if redisClient != nil {
		defer redisClient.Close()
		tokens = cache.NewTokenCache(redisClient.Client, cfg.Engine.Cache.TTL)
		progress = cache.NewProgressMirror(redisClient.Client)
	}

	workerPool := plagiarism.NewWorkerPool(ctx, 0)
	defer workerPool.Close()
	log.Info().Int("workers", workerPool.Size()).Msg("Worker pool started")

	engine := plagiarism.NewEngine(
		plagiarism.WithKGram(cfg.Engine.Fingerprint.K),
		plagiarism.WithWindow(cfg.Engine.Fingerprint.Window),
		plagiarism.WithMaxOccurrences(cfg.Engine.Compare.MaxOccurrences),
		plagiarism.WithMaxSpans(cfg.Engine.Compare.MaxSpans),
	)

	hist := history.NewService(store.Scans, store.Alerts)
	orchestrator := scan.NewOrchestrator(scan.Deps{
		Store:    store,
		Blobs:    blobs,
		Alerts:   hist,
		Engine:   engine,
		Pool:     workerPool,
		Tokens:   tokens,
		Progress: progress,
	}, scan.Config{
		MaxFiles:        cfg.MaxFiles,
		MaxFileBytes:    cfg.MaxFileBytes,
		FileConcurrency: cfg.FileConcurrency,
		ScanTimeout:     cfg.ScanTimeout,
	})

	// Dispatch
	runCtx, stopRunners := context.WithCancel(ctx)
	defer stopRunners()
	var waitRunners func()

	switch cfg.ScanDispatch {
	case config.DispatchStream:
		orchestrator.SetDispatcher(stream.NewProducer(redisClient.Client, cfg.RedisStreamKey))

		retryHandler := stream.NewRetryHandler(redisClient.Client, cfg.RedisDeadLetterKey,
			stream.WithDeadLetterHook(func(ctx context.Context, _ string, fields map[string]interface{}, err error) {
				if scanID, ok := fields["scanId"].(string); ok {
					orchestrator.Abandon(ctx, scanID, err)
				}
			}),
		)

		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		consumerName := fmt.Sprintf("consumer-%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
		consumer := stream.NewConsumer(
			redisClient.Client,
			cfg.RedisStreamKey,
			cfg.RedisConsumerGroup,
			consumerName,
			orchestrator,
			retryHandler,
			cfg.StreamRetentionDuration,
			cfg.MaxConcurrentScans,
		)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := consumer.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Redis consumer error")
			}
		}()
		waitRunners = func() { <-done }
		log.Info().Str("consumer_name", consumerName).Msg("Redis stream consumer started")

	default:
		dispatcher := scan.NewInlineDispatcher(runCtx, orchestrator, cfg.MaxConcurrentScans)
		orchestrator.SetDispatcher(dispatcher)
		waitRunners = dispatcher.Wait
	}

	handler := api.NewHandler(orchestrator, hist, cfg.MaxFileBytes)
	uploadBytes := cfg.MaxFileBytes * int64(cfg.MaxFiles)
	router := api.SetupRoutes(api.RouterConfig{
		RateLimitRPS:  cfg.RateLimitRPS,
		MaxUploadSize: min(uploadBytes, 32<<20),
		// room for part headers and the options field
		MaxBodyBytes: uploadBytes + 1<<20,
	}, handler)
	srv := api.StartServer(router, cfg.ServerPort)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down gracefully...")

	if err := api.ShutdownServer(srv, 30*time.Second); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// Running scans are cancelled; their runners record the outcome before returning
	stopRunners()
	waitRunners()

	if err := api.ShutdownServer(metricsServer, 5*time.Second); err != nil {
		log.Error().Err(err).Msg("Error shutting down metrics server")
	}

	log.Info().Msg("Shutdown complete")
}
