package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"gorm.io/gorm"
)

// TranscriptRepository handles transcript record reads and all status
// transitions. Every write runs as its own unit of work, independent of any
// caller-level transaction, so a failed best-effort follow-up (index sync)
// can never roll back a completed save.
type TranscriptRepository struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewTranscriptRepository creates a new TranscriptRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - log: logger for swallowed-failure reporting.
//
// Returns:
//   - *TranscriptRepository: repository instance bound to db.
func NewTranscriptRepository(db *gorm.DB, log *logger.Logger) *TranscriptRepository {
	return &TranscriptRepository{db: db, logger: log}
}

// GetByID retrieves a transcript record by consultation number.
func (r *TranscriptRepository) GetByID(ctx context.Context, consultationNumber string) (*domain.TranscriptRecord, error) {
	var record domain.TranscriptRecord
	if err := r.db.WithContext(ctx).First(&record, "consultation_number = ?", consultationNumber).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListPending retrieves up to limit PENDING records ordered by consultation
// time ascending, oldest first.
func (r *TranscriptRepository) ListPending(ctx context.Context, limit int) ([]domain.TranscriptRecord, error) {
	var records []domain.TranscriptRecord
	if err := r.db.WithContext(ctx).
		Where("analysis_status = ?", domain.StatusPending).
		Order("consultation_time ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListPendingPage retrieves a page of PENDING records for the control
// surface, ordered by consultation time ascending.
func (r *TranscriptRepository) ListPendingPage(ctx context.Context, limit, offset int) ([]domain.TranscriptRecord, error) {
	var records []domain.TranscriptRecord
	if err := r.db.WithContext(ctx).
		Where("analysis_status = ?", domain.StatusPending).
		Order("consultation_time ASC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListCompleted retrieves all COMPLETED records that carry an analysis
// result, for index reinitialization.
func (r *TranscriptRepository) ListCompleted(ctx context.Context) ([]domain.TranscriptRecord, error) {
	var records []domain.TranscriptRecord
	if err := r.db.WithContext(ctx).
		Where("analysis_status = ? AND response1 IS NOT NULL", domain.StatusCompleted).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountByStatus counts transcript records by analysis status.
func (r *TranscriptRepository) CountByStatus(ctx context.Context, status domain.AnalysisStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.TranscriptRecord{}).
		Where("analysis_status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Count returns the total number of transcript records.
func (r *TranscriptRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.TranscriptRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkProcessing transitions a record to PROCESSING.
func (r *TranscriptRepository) MarkProcessing(ctx context.Context, record *domain.TranscriptRecord) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&domain.TranscriptRecord{}).
		Where("consultation_number = ?", record.ConsultationNumber).
		Updates(map[string]interface{}{
			"analysis_status": domain.StatusProcessing,
			"updated_date":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark record processing: %w", err)
	}
	record.AnalysisStatus = domain.StatusProcessing
	record.UpdatedAt = now
	return nil
}

// SaveResult writes the seven result fields, sets status COMPLETED and
// stamps the analysis timestamp, all in one isolated statement.
func (r *TranscriptRepository) SaveResult(ctx context.Context, record *domain.TranscriptRecord, result *domain.AnalysisResult) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&domain.TranscriptRecord{}).
		Where("consultation_number = ?", record.ConsultationNumber).
		Updates(map[string]interface{}{
			"response1":       result.MainInquiry,
			"response2":       result.HasNudge,
			"response3":       result.NudgeType,
			"response4":       result.NudgeContent,
			"response5":       result.CustomerResponse,
			"response6":       result.InappropriateNudge,
			"response7":       result.InappropriateReason,
			"analysis_status": domain.StatusCompleted,
			"analysis_date":   now,
			"updated_date":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	record.ApplyResult(result)
	record.AnalysisStatus = domain.StatusCompleted
	record.AnalysisDate = &now
	record.UpdatedAt = now
	return nil
}

// MarkFailed transitions a record to FAILED. A failure to record failure is
// logged and swallowed: it must not cascade into the batch loop.
func (r *TranscriptRepository) MarkFailed(ctx context.Context, record *domain.TranscriptRecord) {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&domain.TranscriptRecord{}).
		Where("consultation_number = ?", record.ConsultationNumber).
		Updates(map[string]interface{}{
			"analysis_status": domain.StatusFailed,
			"updated_date":    now,
		}).Error
	if err != nil {
		r.logger.WithField(logger.FieldConsultationNo, record.ConsultationNumber).
			WithError(err).Error("Failed to mark record as FAILED")
		return
	}
	record.AnalysisStatus = domain.StatusFailed
	record.UpdatedAt = now
}

// ResetStaleProcessing resets records stuck in PROCESSING longer than
// olderThan back to PENDING so the next run can reclaim them. Returns the
// number of reclaimed records.
func (r *TranscriptRepository) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&domain.TranscriptRecord{}).
		Where("analysis_status = ? AND updated_date < ?", domain.StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"analysis_status": domain.StatusPending,
			"updated_date":    time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset stale processing records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
