package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/lavaspoon/vectorrag/internal/config"
	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"github.com/lavaspoon/vectorrag/internal/prompts"
)

// TranscriptStore is the slice of the transcript repository the analysis path
// needs. MarkFailed has no error return: recording a failure must never throw
// back into the batch loop.
type TranscriptStore interface {
	GetByID(ctx context.Context, consultationNumber string) (*domain.TranscriptRecord, error)
	MarkProcessing(ctx context.Context, record *domain.TranscriptRecord) error
	SaveResult(ctx context.Context, record *domain.TranscriptRecord, result *domain.AnalysisResult) error
	MarkFailed(ctx context.Context, record *domain.TranscriptRecord)
}

// Retriever finds similar prior consultations. Implementations degrade to an
// empty match list on failure.
type Retriever interface {
	SearchSimilar(ctx context.Context, content string) []domain.SimilarityMatch
}

// Completer runs the analysis prompt against the model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// indexSyncer mirrors completed analyses into the similarity index.
type indexSyncer interface {
	Sync(ctx context.Context, record *domain.TranscriptRecord, result *domain.AnalysisResult) bool
}

// AnalysisUnit orchestrates one record's analysis end to end: claim the
// record, preprocess, retrieve reference cases, prompt the model with bounded
// retry, normalize, persist, then mirror to the index best-effort.
//
// Analyze always leaves the record in a terminal status and always returns a
// structurally valid result; errors are reported alongside so the batch loop
// can count failures.
type AnalysisUnit struct {
	store      TranscriptStore
	retriever  Retriever
	completer  Completer
	normalizer *ResponseNormalizer
	index      indexSyncer
	retry      *RetryPolicy
	metrics    *AnalysisMetrics
	cfg        *config.AnalysisConfig
	logger     *logger.Logger
}

// NewAnalysisUnit creates a new AnalysisUnit. index may be nil when no
// similarity index is configured.
func NewAnalysisUnit(
	store TranscriptStore,
	retriever Retriever,
	completer Completer,
	normalizer *ResponseNormalizer,
	index indexSyncer,
	metrics *AnalysisMetrics,
	cfg *config.AnalysisConfig,
	log *logger.Logger,
) *AnalysisUnit {
	return &AnalysisUnit{
		store:      store,
		retriever:  retriever,
		completer:  completer,
		normalizer: normalizer,
		index:      index,
		retry:      NewRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay),
		metrics:    metrics,
		cfg:        cfg,
		logger:     log,
	}
}

// Analyze processes one record to a terminal status. On success the record is
// COMPLETED with the normalized result saved; on terminal failure the record
// is FAILED and the manual-review default result is returned with the error.
func (u *AnalysisUnit) Analyze(ctx context.Context, record *domain.TranscriptRecord) (*domain.AnalysisResult, error) {
	start := time.Now()
	ctx = logger.SetConsultationNo(ctx, record.ConsultationNumber)
	log := logger.FromContext(ctx)
	u.metrics.RecordStart()

	if err := u.store.MarkProcessing(ctx, record); err != nil {
		// The record must still reach a terminal status, or the backlog
		// loop would refetch it on every page.
		u.store.MarkFailed(ctx, record)
		u.metrics.RecordFailure(time.Since(start))
		return domain.DefaultAnalysisResult(), fmt.Errorf("failed to claim record: %w", err)
	}

	result, err := u.AnalyzeContent(ctx, record.ConsultationContent)
	if err != nil {
		u.store.MarkFailed(ctx, record)
		u.metrics.RecordFailure(time.Since(start))
		log.WithError(err).Error("Analysis failed, record marked FAILED")
		return domain.DefaultAnalysisResult(), err
	}

	if err := u.store.SaveResult(ctx, record, result); err != nil {
		u.store.MarkFailed(ctx, record)
		u.metrics.RecordFailure(time.Since(start))
		log.WithError(err).Error("Failed to save analysis result, record marked FAILED")
		return domain.DefaultAnalysisResult(), err
	}

	// Index sync runs after the save commits. Its failure leaves the record
	// COMPLETED; the index catches up on the next reinitialization.
	if u.index != nil {
		u.index.Sync(ctx, record, result)
	}

	elapsed := time.Since(start)
	u.metrics.RecordSuccess(elapsed)
	logger.With(logger.Fields{logger.FieldDurationMs: elapsed.Milliseconds()}).
		Info(ctx, "Record analyzed: hasNudge=%s type=%s", result.HasNudge, result.NudgeType)

	return result, nil
}

// AnalyzeContent runs the retrieval-augmented analysis over raw transcript
// text without touching record state. The control surface uses it for ad hoc
// test analyses.
func (u *AnalysisUnit) AnalyzeContent(ctx context.Context, content string) (*domain.AnalysisResult, error) {
	cleaned := u.preprocess(content)

	matches := u.retriever.SearchSimilar(ctx, cleaned)
	contextBlock := BuildContext(matches, u.cfg.ContextExcerptLength)
	prompt := prompts.BuildAnalysisPrompt(contextBlock, cleaned)

	attempt := 0
	response, err := u.retry.Do(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			u.metrics.RecordRetry()
		}
		return u.completer.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("completion failed after %d attempts: %w", attempt, err)
	}

	return u.normalizer.Normalize(response), nil
}

// preprocess strips control characters, collapses runs of whitespace and
// truncates to the configured maximum so the prompt fits the model context.
func (u *AnalysisUnit) preprocess(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if r == unicode.ReplacementChar || unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	return truncateRunes(cleaned, u.cfg.MaxContentLength)
}
