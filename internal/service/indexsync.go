package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"github.com/lavaspoon/vectorrag/internal/repository"
)

// pointIDNamespace salts the deterministic point IDs so they cannot collide
// with IDs from unrelated collections sharing the cluster.
var pointIDNamespace = uuid.MustParse("7f3c2a10-91d4-4e8b-b2c5-6a84d90e1f37")

// consultationIndex is the slice of the Qdrant repository index sync needs.
type consultationIndex interface {
	HasConsultation(ctx context.Context, consultationNumber string) (bool, error)
	InsertDocument(ctx context.Context, pointID string, vector []float32, payload *repository.ConsultationPayload) error
	ExistingConsultationNumbers(ctx context.Context) (map[string]struct{}, error)
}

// completedLister lists completed records for index reinitialization.
type completedLister interface {
	ListCompleted(ctx context.Context) ([]domain.TranscriptRecord, error)
}

// IndexSyncService keeps the similarity index in step with completed
// analyses. Every operation is best effort: the relational store is the
// source of truth and index failures are logged, never propagated.
type IndexSyncService struct {
	index    consultationIndex
	embedder Embedder
	store    completedLister
	logger   *logger.Logger
}

// NewIndexSyncService creates a new IndexSyncService.
func NewIndexSyncService(index consultationIndex, embedder Embedder, store completedLister, log *logger.Logger) *IndexSyncService {
	return &IndexSyncService{
		index:    index,
		embedder: embedder,
		store:    store,
		logger:   log,
	}
}

// PointID derives the deterministic index point ID for a consultation number,
// so re-syncing the same record always targets the same point.
func PointID(consultationNumber string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(consultationNumber)).String()
}

// Sync indexes one completed record. An existence check runs first so a
// record analyzed twice does not produce duplicate entries. Returns false
// when the record was skipped or the sync failed.
func (s *IndexSyncService) Sync(ctx context.Context, record *domain.TranscriptRecord, result *domain.AnalysisResult) bool {
	log := s.logger.WithField(logger.FieldConsultationNo, record.ConsultationNumber)

	exists, err := s.index.HasConsultation(ctx, record.ConsultationNumber)
	if err != nil {
		log.WithError(err).Warn("Index existence check failed, skipping index sync")
		return false
	}
	if exists {
		log.Debug("Consultation already indexed, skipping")
		return false
	}

	vector, err := s.embedder.Embed(ctx, record.ConsultationContent)
	if err != nil {
		log.WithError(err).Warn("Failed to embed consultation for index sync")
		return false
	}

	if err := s.index.InsertDocument(ctx, PointID(record.ConsultationNumber), vector, s.buildPayload(record, result)); err != nil {
		log.WithError(err).Warn("Failed to insert consultation into index")
		return false
	}

	return true
}

// Reinitialize indexes every completed record missing from the index. It is
// a delta operation: already-indexed consultations are left untouched, so it
// is safe to run against a live collection. Returns the number of records
// indexed.
func (s *IndexSyncService) Reinitialize(ctx context.Context) (int, error) {
	existing, err := s.index.ExistingConsultationNumbers(ctx)
	if err != nil {
		return 0, err
	}

	records, err := s.store.ListCompleted(ctx)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for i := range records {
		record := &records[i]
		if _, ok := existing[record.ConsultationNumber]; ok {
			continue
		}

		vector, err := s.embedder.Embed(ctx, record.ConsultationContent)
		if err != nil {
			s.logger.WithField(logger.FieldConsultationNo, record.ConsultationNumber).
				WithError(err).Warn("Failed to embed consultation during reinitialization")
			continue
		}

		result := record.Result()
		if err := s.index.InsertDocument(ctx, PointID(record.ConsultationNumber), vector, s.buildPayload(record, result)); err != nil {
			s.logger.WithField(logger.FieldConsultationNo, record.ConsultationNumber).
				WithError(err).Warn("Failed to insert consultation during reinitialization")
			continue
		}
		indexed++
	}

	logger.With(logger.Fields{logger.FieldCount: indexed}).
		Info(ctx, "Index reinitialization finished: %d of %d completed records indexed", indexed, len(records))

	return indexed, nil
}

func (s *IndexSyncService) buildPayload(record *domain.TranscriptRecord, result *domain.AnalysisResult) *repository.ConsultationPayload {
	analysisJSON := ""
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			analysisJSON = string(data)
		}
	}

	consultationTime := ""
	if !record.ConsultationTime.IsZero() {
		consultationTime = record.ConsultationTime.Format(time.RFC3339)
	}

	return &repository.ConsultationPayload{
		ConsultationNumber: record.ConsultationNumber,
		Consultant:         record.Consultant,
		Content:            record.ConsultationContent,
		AnalysisResult:     analysisJSON,
		ConsultationTime:   consultationTime,
	}
}
