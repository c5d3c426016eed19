package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lavaspoon/vectorrag/internal/api/handler"
	"github.com/lavaspoon/vectorrag/internal/api/middleware"
	"github.com/lavaspoon/vectorrag/internal/config"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"github.com/lavaspoon/vectorrag/internal/repository"
	"github.com/lavaspoon/vectorrag/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	coordinator *service.BatchCoordinator,
	analysis *service.AnalysisUnit,
	indexSync *service.IndexSyncService,
	metrics *service.AnalysisMetrics,
	repo *repository.TranscriptRepository,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	analysisHandler := handler.NewAnalysisHandler(coordinator, analysis, indexSync, metrics, repo)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		analysisGroup := v1.Group("/analysis")
		{
			// Backlog visibility
			analysisGroup.GET("/pending", analysisHandler.ListPending)
			analysisGroup.GET("/status", analysisHandler.Status)

			// Metrics
			analysisGroup.GET("/metrics", analysisHandler.Metrics)
			analysisGroup.POST("/metrics/reset", analysisHandler.ResetMetrics)

			// Batch control
			analysisGroup.POST("/batch/run", analysisHandler.RunBatch)
			analysisGroup.POST("/batch/stop", analysisHandler.StopBatch)

			// Manual / ad hoc analysis
			analysisGroup.POST("/records/:consultationNumber", analysisHandler.AnalyzeRecord)
			analysisGroup.POST("/test", analysisHandler.TestAnalyze)

			// Index maintenance
			analysisGroup.POST("/index/reinitialize", analysisHandler.ReinitializeIndex)
		}
	}

	return r
}
