package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/lavaspoon/vectorrag/internal/config"
	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"gorm.io/gorm"
)

// Coordinator run states. Transitions go through compare-and-swap only:
// Idle -> Running on acquisition, Running -> StopRequested on a stop call,
// and anything -> Idle when the run exits.
const (
	stateIdle int32 = iota
	stateRunning
	stateStopRequested
)

var (
	// ErrAlreadyRunning signals that a backlog run is active. It is a no-op
	// indication for the caller, not a fault.
	ErrAlreadyRunning = errors.New("backlog run already in progress")

	// ErrRecordNotFound signals an unknown consultation number on a manual
	// single-record trigger.
	ErrRecordNotFound = errors.New("consultation record not found")
)

// backlogStore is the slice of the transcript repository the coordinator
// needs beyond what AnalysisUnit already holds.
type backlogStore interface {
	GetByID(ctx context.Context, consultationNumber string) (*domain.TranscriptRecord, error)
	ListPending(ctx context.Context, limit int) ([]domain.TranscriptRecord, error)
	CountByStatus(ctx context.Context, status domain.AnalysisStatus) (int64, error)
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

// recordAnalyzer processes one record to a terminal status.
type recordAnalyzer interface {
	Analyze(ctx context.Context, record *domain.TranscriptRecord) (*domain.AnalysisResult, error)
}

// RunSummary reports the outcome of one backlog run.
type RunSummary struct {
	Total     int64         `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Stopped   bool          `json:"stopped"`
	Duration  time.Duration `json:"-"`
}

// BatchCoordinator owns backlog processing: it claims exclusive ownership of
// a run, pages through PENDING records oldest first, paces external calls
// with inter-record and inter-page delays, and honors cooperative stop
// requests between records.
type BatchCoordinator struct {
	store    backlogStore
	analyzer recordAnalyzer
	cfg      *config.AnalysisConfig
	logger   *logger.Logger

	state atomic.Int32
}

// NewBatchCoordinator creates a new BatchCoordinator.
func NewBatchCoordinator(store backlogStore, analyzer recordAnalyzer, cfg *config.AnalysisConfig, log *logger.Logger) *BatchCoordinator {
	return &BatchCoordinator{
		store:    store,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   log,
	}
}

// IsRunning reports whether a backlog run is active.
func (c *BatchCoordinator) IsRunning() bool {
	return c.state.Load() != stateIdle
}

// RequestStop asks an active run to halt after the in-flight record reaches a
// terminal status. Returns false when no run is active.
func (c *BatchCoordinator) RequestStop() bool {
	return c.state.CompareAndSwap(stateRunning, stateStopRequested)
}

func (c *BatchCoordinator) stopRequested() bool {
	return c.state.Load() == stateStopRequested
}

// RunBacklog processes the entire current PENDING backlog to completion or
// until stopped. At most one run is active system-wide: a call while another
// run holds ownership returns ErrAlreadyRunning without side effects.
func (c *BatchCoordinator) RunBacklog(ctx context.Context) (*RunSummary, error) {
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		return nil, ErrAlreadyRunning
	}
	defer c.state.Store(stateIdle)

	return c.runBacklogLocked(ctx)
}

// StartBacklog acquires run ownership synchronously and executes the backlog
// run on a background goroutine, so a trigger can observe the
// already-running condition without waiting for the run itself.
func (c *BatchCoordinator) StartBacklog(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrAlreadyRunning
	}

	go func() {
		defer c.state.Store(stateIdle)
		if _, err := c.runBacklogLocked(ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Error("Background backlog run failed")
		}
	}()

	return nil
}

// runBacklogLocked is the run body. The caller holds run ownership and is
// responsible for releasing it.
func (c *BatchCoordinator) runBacklogLocked(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	runID := start.Format("20060102-150405")
	ctx = logger.SetRunID(ctx, runID)
	log := logger.FromContext(ctx)

	if reclaimed, err := c.store.ResetStaleProcessing(ctx, c.cfg.StaleProcessingAfter); err != nil {
		log.WithError(err).Warn("Failed to reclaim stale PROCESSING records")
	} else if reclaimed > 0 {
		log.WithField(logger.FieldCount, reclaimed).Info("Reclaimed stale PROCESSING records into backlog")
	}

	total, err := c.store.CountByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Total: total}
	log.WithField(logger.FieldCount, total).Info("Backlog run started")

	// The initial PENDING count bounds the run: records that somehow stay
	// PENDING after an analysis attempt (store outage on the claim write)
	// would otherwise be refetched forever.
	for summary.Processed < int(total) && !c.stopRequested() {
		// Processed records leave PENDING, so the next page is always the
		// first page of what remains.
		page, err := c.store.ListPending(ctx, c.cfg.BatchSize)
		if err != nil {
			log.WithError(err).Error("Failed to fetch backlog page, aborting run")
			summary.Duration = time.Since(start)
			return summary, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if c.stopRequested() || summary.Processed >= int(total) {
				break
			}

			if _, err := c.analyzer.Analyze(ctx, &page[i]); err != nil {
				summary.Failed++
			}
			summary.Processed++

			if c.cfg.ProgressEvery > 0 && summary.Processed%c.cfg.ProgressEvery == 0 {
				logger.With(logger.Fields{logger.FieldCount: summary.Processed}).
					Info(ctx, "Backlog progress: %d/%d processed, %d failed", summary.Processed, total, summary.Failed)
			}

			// Pace external calls between records, but never after the last
			// one of the page.
			if i < len(page)-1 && !c.stopRequested() {
				if !sleepCtx(ctx, c.cfg.RecordDelay) {
					break
				}
			}
		}

		if len(page) < c.cfg.BatchSize {
			break
		}
		if !c.stopRequested() && !sleepCtx(ctx, c.cfg.PageDelay) {
			break
		}
	}

	summary.Stopped = c.stopRequested()
	summary.Duration = time.Since(start)

	logger.With(logger.Fields{
		logger.FieldCount:      summary.Processed,
		logger.FieldDurationMs: summary.Duration.Milliseconds(),
	}).Info(ctx, "Backlog run finished: %d processed, %d failed, stopped=%t", summary.Processed, summary.Failed, summary.Stopped)

	return summary, nil
}

// RunOne processes a single named record regardless of backlog state. It may
// execute concurrently with a backlog run; the record's own status row is the
// only shared state.
func (c *BatchCoordinator) RunOne(ctx context.Context, consultationNumber string) (*domain.AnalysisResult, error) {
	record, err := c.store.GetByID(ctx, consultationNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return c.analyzer.Analyze(ctx, record)
}

// RunScheduled triggers backlog runs on a fixed period measured from the end
// of the previous run, so a long run never overlaps the next trigger. It
// blocks until ctx is canceled.
func (c *BatchCoordinator) RunScheduled(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.WithField("interval", c.cfg.ScheduleInterval.String()).Info("Backlog scheduler started")

	for {
		if !sleepCtx(ctx, c.cfg.ScheduleInterval) {
			log.Info("Backlog scheduler stopped")
			return
		}

		if _, err := c.RunBacklog(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.WithError(err).Error("Scheduled backlog run failed")
		}
	}
}

// sleepCtx blocks for d or until ctx is done. Returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
