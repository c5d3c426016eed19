package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lavaspoon/vectorrag/internal/api/middleware"
	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/repository"
	"github.com/lavaspoon/vectorrag/internal/service"
)

// AnalysisHandler exposes the batch-analysis control surface: backlog
// triggers, status and metrics queries, manual per-record runs and ad hoc
// test analyses.
type AnalysisHandler struct {
	coordinator *service.BatchCoordinator
	analysis    *service.AnalysisUnit
	indexSync   *service.IndexSyncService
	metrics     *service.AnalysisMetrics
	repo        *repository.TranscriptRepository
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(
	coordinator *service.BatchCoordinator,
	analysis *service.AnalysisUnit,
	indexSync *service.IndexSyncService,
	metrics *service.AnalysisMetrics,
	repo *repository.TranscriptRepository,
) *AnalysisHandler {
	return &AnalysisHandler{
		coordinator: coordinator,
		analysis:    analysis,
		indexSync:   indexSync,
		metrics:     metrics,
		repo:        repo,
	}
}

// ListPending returns a page of records awaiting analysis.
// GET /api/v1/analysis/pending?page=0&size=50
func (h *AnalysisHandler) ListPending(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "50"))
	if err != nil || size < 1 || size > 500 {
		size = 50
	}

	records, err := h.repo.ListPendingPage(c.Request.Context(), size, page*size)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to list pending records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"page":    page,
		"size":    size,
		"count":   len(records),
		"records": records,
	})
}

// Status returns backlog counts and whether a run is active.
// GET /api/v1/analysis/status
func (h *AnalysisHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	total, err := h.repo.Count(ctx)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to count records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read analysis status"})
		return
	}

	counts := make(map[domain.AnalysisStatus]int64, 3)
	for _, status := range []domain.AnalysisStatus{domain.StatusPending, domain.StatusCompleted, domain.StatusFailed} {
		n, err := h.repo.CountByStatus(ctx, status)
		if err != nil {
			middleware.GetLogger(c).WithError(err).Error("Failed to count records by status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read analysis status"})
			return
		}
		counts[status] = n
	}

	completionRate := 0.0
	if total > 0 {
		completionRate = float64(counts[domain.StatusCompleted]) / float64(total) * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"total_count":     total,
		"pending_count":   counts[domain.StatusPending],
		"completed_count": counts[domain.StatusCompleted],
		"failed_count":    counts[domain.StatusFailed],
		"completion_rate": completionRate,
		"is_running":      h.coordinator.IsRunning(),
	})
}

// Metrics returns the cumulative analysis counters.
// GET /api/v1/analysis/metrics
func (h *AnalysisHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// ResetMetrics zeroes the analysis counters.
// POST /api/v1/analysis/metrics/reset
func (h *AnalysisHandler) ResetMetrics(c *gin.Context) {
	h.metrics.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// RunBatch triggers a backlog run in the background. A run already in
// progress yields 409 without touching the active run.
// POST /api/v1/analysis/batch/run
func (h *AnalysisHandler) RunBatch(c *gin.Context) {
	// The run outlives the request, so detach from its cancellation while
	// keeping the request-scoped log fields.
	err := h.coordinator.StartBacklog(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, service.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{
			"status":  "already_running",
			"message": "batch analysis is already in progress",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "started",
		"message": "batch analysis started",
	})
}

// StopBatch asks the active run to halt after the in-flight record.
// POST /api/v1/analysis/batch/stop
func (h *AnalysisHandler) StopBatch(c *gin.Context) {
	if h.coordinator.RequestStop() {
		c.JSON(http.StatusOK, gin.H{"status": "stop_requested"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "not_running"})
}

// AnalyzeRecord runs the full analysis cycle for one consultation number.
// POST /api/v1/analysis/records/:consultationNumber
func (h *AnalysisHandler) AnalyzeRecord(c *gin.Context) {
	consultationNumber := c.Param("consultationNumber")

	result, err := h.coordinator.RunOne(c.Request.Context(), consultationNumber)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":               "consultation not found",
				"consultation_number": consultationNumber,
			})
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Manual record analysis failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":               "analysis failed",
			"consultation_number": consultationNumber,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consultation_number": consultationNumber,
		"result":              result,
	})
}

type testAnalyzeRequest struct {
	ConsultationContent string `json:"consultationContent" binding:"required"`
}

// TestAnalyze analyzes raw content without touching stored records.
// POST /api/v1/analysis/test
func (h *AnalysisHandler) TestAnalyze(c *gin.Context) {
	var req testAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "consultationContent is required"})
		return
	}

	result, err := h.analysis.AnalyzeContent(c.Request.Context(), req.ConsultationContent)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Test analysis failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReinitializeIndex backfills the similarity index with completed analyses
// missing from it.
// POST /api/v1/analysis/index/reinitialize
func (h *AnalysisHandler) ReinitializeIndex(c *gin.Context) {
	indexed, err := h.indexSync.Reinitialize(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Index reinitialization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "index reinitialization failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"indexed": indexed,
	})
}
