package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lavaspoon/vectorrag/internal/api"
	"github.com/lavaspoon/vectorrag/internal/config"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"github.com/lavaspoon/vectorrag/internal/repository"
	"github.com/lavaspoon/vectorrag/internal/service"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(logger.DefaultConfig())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	transcriptRepo := repository.NewTranscriptRepository(db, appLogger)
	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Qdrant.VectorDimension,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	// Ensure Qdrant collection exists
	ctx := context.Background()
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	// Initialize services
	embeddingService := service.NewEmbeddingService(&cfg.Embedding)
	completionService := service.NewCompletionService(&cfg.Completion)
	normalizer := service.NewResponseNormalizer(appLogger)
	metrics := service.NewAnalysisMetrics()

	retrievalService := service.NewRetrievalService(
		embeddingService,
		qdrantRepo,
		cfg.Analysis.TopK,
		cfg.Analysis.SimilarityThreshold,
		appLogger,
	)
	indexSyncService := service.NewIndexSyncService(qdrantRepo, embeddingService, transcriptRepo, appLogger)

	// Backfill the similarity index with completed analyses that are not in
	// Qdrant yet. Best effort: startup continues either way and the delta can
	// be re-run through the reinitialize endpoint.
	go func() {
		backfillCtx := logger.SetComponent(ctx, "index-backfill")
		if synced, err := indexSyncService.Reinitialize(backfillCtx); err != nil {
			appLogger.WithError(err).Warn("Similarity index backfill failed")
		} else if synced > 0 {
			appLogger.WithField("count", synced).Info("Similarity index backfilled")
		}
	}()

	analysisUnit := service.NewAnalysisUnit(
		transcriptRepo,
		retrievalService,
		completionService,
		normalizer,
		indexSyncService,
		metrics,
		&cfg.Analysis,
		appLogger,
	)
	coordinator := service.NewBatchCoordinator(transcriptRepo, analysisUnit, &cfg.Analysis, appLogger)

	appLogger.WithFields(logger.Fields{
		"embedding_model":  embeddingService.GetModel(),
		"completion_model": completionService.GetModel(),
		"batch_size":       cfg.Analysis.BatchSize,
	}).Info("Analysis pipeline initialized")

	// Start the backlog scheduler
	schedulerCtx, stopScheduler := context.WithCancel(logger.SetComponent(ctx, "scheduler"))
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		coordinator.RunScheduled(schedulerCtx)
	}()

	// Setup router
	router := api.SetupRouter(coordinator, analysisUnit, indexSyncService, metrics, transcriptRepo, &cfg.Server, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Stop scheduling and ask an in-flight run to halt at the next record
	// boundary, then wait briefly for the loop to exit.
	stopScheduler()
	coordinator.RequestStop()
	select {
	case <-schedulerDone:
	case <-time.After(10 * time.Second):
		appLogger.Warn("Scheduler did not stop in time, continuing shutdown")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
