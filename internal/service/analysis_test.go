package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lavaspoon/vectorrag/internal/config"
	"github.com/lavaspoon/vectorrag/internal/domain"
)

// fakeStore is an in-memory TranscriptStore recording status transitions.
type fakeStore struct {
	records        map[string]*domain.TranscriptRecord
	saved          map[string]*domain.AnalysisResult
	failProcessing bool
	failSave       bool
}

func newFakeStore(records ...*domain.TranscriptRecord) *fakeStore {
	s := &fakeStore{
		records: make(map[string]*domain.TranscriptRecord),
		saved:   make(map[string]*domain.AnalysisResult),
	}
	for _, r := range records {
		s.records[r.ConsultationNumber] = r
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.TranscriptRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return r, nil
}

func (s *fakeStore) MarkProcessing(_ context.Context, record *domain.TranscriptRecord) error {
	if s.failProcessing {
		return errors.New("db unavailable")
	}
	record.AnalysisStatus = domain.StatusProcessing
	s.records[record.ConsultationNumber].AnalysisStatus = domain.StatusProcessing
	return nil
}

func (s *fakeStore) SaveResult(_ context.Context, record *domain.TranscriptRecord, result *domain.AnalysisResult) error {
	if s.failSave {
		return errors.New("db unavailable")
	}
	record.ApplyResult(result)
	record.AnalysisStatus = domain.StatusCompleted
	s.records[record.ConsultationNumber].AnalysisStatus = domain.StatusCompleted
	s.saved[record.ConsultationNumber] = result
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, record *domain.TranscriptRecord) {
	record.AnalysisStatus = domain.StatusFailed
	s.records[record.ConsultationNumber].AnalysisStatus = domain.StatusFailed
}

// fakeRetriever returns a fixed match list.
type fakeRetriever struct {
	matches []domain.SimilarityMatch
	queries []string
}

func (r *fakeRetriever) SearchSimilar(_ context.Context, content string) []domain.SimilarityMatch {
	r.queries = append(r.queries, content)
	return r.matches
}

// fakeCompleter replays scripted responses; an empty script entry means error.
type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (c *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

// fakeIndexSyncer records sync invocations.
type fakeIndexSyncer struct {
	synced []string
}

func (f *fakeIndexSyncer) Sync(_ context.Context, record *domain.TranscriptRecord, _ *domain.AnalysisResult) bool {
	f.synced = append(f.synced, record.ConsultationNumber)
	return true
}

func testAnalysisConfig() *config.AnalysisConfig {
	return &config.AnalysisConfig{
		BatchSize:            3,
		RecordDelay:          0,
		PageDelay:            0,
		ProgressEvery:        10,
		MaxAttempts:          3,
		RetryBaseDelay:       time.Millisecond,
		TopK:                 3,
		SimilarityThreshold:  0.75,
		MaxContentLength:     2000,
		ContextExcerptLength: 200,
		StaleProcessingAfter: 30 * time.Minute,
	}
}

func pendingRecord(id string) *domain.TranscriptRecord {
	return &domain.TranscriptRecord{
		ConsultationNumber:  id,
		Consultant:          "agent-7",
		ConsultationContent: "고객님 요금제 관련 문의드립니다",
		ConsultationTime:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		AnalysisStatus:      domain.StatusPending,
	}
}

const validResponse = `{"mainInquiry":"요금 문의","hasNudge":"Y","nudgeType":"개인화추천",` +
	`"nudgeContent":"무제한 요금제가 저렴해요","customerResponse":"Y",` +
	`"inappropriateNudge":"N","inappropriateReason":"N"}`

func newTestUnit(store *fakeStore, retriever Retriever, completer Completer, index indexSyncer) (*AnalysisUnit, *AnalysisMetrics) {
	metrics := NewAnalysisMetrics()
	log := newTestLogger()
	unit := NewAnalysisUnit(store, retriever, completer, NewResponseNormalizer(log), index, metrics, testAnalysisConfig(), log)
	return unit, metrics
}

func TestAnalyze_Success(t *testing.T) {
	record := pendingRecord("C-1001")
	store := newFakeStore(record)
	index := &fakeIndexSyncer{}
	unit, metrics := newTestUnit(store, &fakeRetriever{}, &fakeCompleter{responses: []string{validResponse}}, index)

	result, err := unit.Analyze(context.Background(), record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.AnalysisStatus != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", record.AnalysisStatus)
	}
	if result.HasNudge != "Y" || result.NudgeType != "개인화추천" {
		t.Errorf("unexpected result: %+v", result)
	}
	if store.saved["C-1001"] == nil {
		t.Error("result was not persisted")
	}
	if len(index.synced) != 1 || index.synced[0] != "C-1001" {
		t.Errorf("index sync not triggered: %v", index.synced)
	}

	snap := metrics.Snapshot()
	if snap.Succeeded != 1 || snap.Failed != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestAnalyze_RetryExhaustionMarksFailed(t *testing.T) {
	record := pendingRecord("C-1002")
	store := newFakeStore(record)
	index := &fakeIndexSyncer{}
	completer := &fakeCompleter{errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	unit, metrics := newTestUnit(store, &fakeRetriever{}, completer, index)

	result, err := unit.Analyze(context.Background(), record)
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}

	if record.AnalysisStatus != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", record.AnalysisStatus)
	}
	if completer.calls != 3 {
		t.Errorf("completion calls = %d, want 3", completer.calls)
	}
	if result.MainInquiry != domain.DefaultMainInquiry {
		t.Errorf("caller did not receive default result: %+v", result)
	}
	if len(index.synced) != 0 {
		t.Error("index must not be synced for failed records")
	}

	snap := metrics.Snapshot()
	if snap.Failed != 1 || snap.Succeeded != 0 {
		t.Errorf("metrics = %+v", snap)
	}
	if snap.Retries != 2 {
		t.Errorf("retries = %d, want 2", snap.Retries)
	}
}

func TestAnalyze_BlankResponseIsRetried(t *testing.T) {
	record := pendingRecord("C-1003")
	store := newFakeStore(record)
	completer := &fakeCompleter{
		errs:      []error{errors.New("completion API returned empty content"), nil},
		responses: []string{"", validResponse},
	}
	unit, _ := newTestUnit(store, &fakeRetriever{}, completer, nil)

	_, err := unit.Analyze(context.Background(), record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completer.calls != 2 {
		t.Errorf("completion calls = %d, want 2", completer.calls)
	}
	if record.AnalysisStatus != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", record.AnalysisStatus)
	}
}

func TestAnalyze_MalformedOutputCompletesWithDefault(t *testing.T) {
	record := pendingRecord("C-1004")
	store := newFakeStore(record)
	completer := &fakeCompleter{responses: []string{"도저히 분석할 수 없습니다"}}
	unit, _ := newTestUnit(store, &fakeRetriever{}, completer, nil)

	result, err := unit.Analyze(context.Background(), record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Malformed output is not retried; the record still completes, flagged
	// for manual review via the inquiry text.
	if completer.calls != 1 {
		t.Errorf("completion calls = %d, want 1", completer.calls)
	}
	if record.AnalysisStatus != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", record.AnalysisStatus)
	}
	if result.MainInquiry != domain.DefaultMainInquiry {
		t.Errorf("mainInquiry = %q, want manual-review marker", result.MainInquiry)
	}
}

func TestAnalyze_RetrievalDegradesToEmptyContext(t *testing.T) {
	record := pendingRecord("C-1005")
	store := newFakeStore(record)
	completer := &fakeCompleter{responses: []string{validResponse}}
	// nil matches are what the retrieval service yields on failure
	unit, _ := newTestUnit(store, &fakeRetriever{matches: nil}, completer, nil)

	_, err := unit.Analyze(context.Background(), record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(completer.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(completer.prompts))
	}
	if !strings.Contains(completer.prompts[0], "참고 사례 없음") {
		t.Error("prompt missing the no-reference marker for empty context")
	}
	if record.AnalysisStatus != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", record.AnalysisStatus)
	}
}

func TestAnalyze_ReferenceCasesInPrompt(t *testing.T) {
	record := pendingRecord("C-1006")
	store := newFakeStore(record)
	completer := &fakeCompleter{responses: []string{validResponse}}
	retriever := &fakeRetriever{matches: []domain.SimilarityMatch{
		{Content: "이전 요금제 상담", Score: 0.91, AnalysisResult: `{"hasNudge":"Y"}`},
	}}
	unit, _ := newTestUnit(store, retriever, completer, nil)

	if _, err := unit.Analyze(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := completer.prompts[0]
	if !strings.Contains(prompt, "참고사례:") || !strings.Contains(prompt, "1) 이전 요금제 상담") {
		t.Errorf("prompt missing reference case block:\n%s", prompt)
	}
}

func TestAnalyze_MarkProcessingFailure(t *testing.T) {
	record := pendingRecord("C-1007")
	store := newFakeStore(record)
	store.failProcessing = true
	completer := &fakeCompleter{responses: []string{validResponse}}
	unit, metrics := newTestUnit(store, &fakeRetriever{}, completer, nil)

	_, err := unit.Analyze(context.Background(), record)
	if err == nil {
		t.Fatal("expected error when the record cannot be claimed")
	}
	if completer.calls != 0 {
		t.Error("completion must not run for an unclaimed record")
	}
	if metrics.Snapshot().Failed != 1 {
		t.Error("claim failure not counted")
	}
	// The record must not stay PENDING, or the backlog loop would refetch it.
	if record.AnalysisStatus != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", record.AnalysisStatus)
	}
}

func TestAnalyze_SaveFailureMarksFailed(t *testing.T) {
	record := pendingRecord("C-1008")
	store := newFakeStore(record)
	store.failSave = true
	unit, _ := newTestUnit(store, &fakeRetriever{}, &fakeCompleter{responses: []string{validResponse}}, nil)

	_, err := unit.Analyze(context.Background(), record)
	if err == nil {
		t.Fatal("expected error when save fails")
	}
	if record.AnalysisStatus != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", record.AnalysisStatus)
	}
}

func TestPreprocess(t *testing.T) {
	unit, _ := newTestUnit(newFakeStore(), &fakeRetriever{}, &fakeCompleter{}, nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "control chars stripped", in: "안녕\x00하세요\x1f고객님", want: "안녕 하세요 고객님"},
		{name: "whitespace collapsed", in: "  요금제   변경\n\n문의  ", want: "요금제 변경 문의"},
		{name: "tabs and newlines", in: "a\tb\nc", want: "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unit.preprocess(tt.in); got != tt.want {
				t.Errorf("preprocess(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPreprocess_Truncation(t *testing.T) {
	unit, _ := newTestUnit(newFakeStore(), &fakeRetriever{}, &fakeCompleter{}, nil)

	long := strings.Repeat("가", 2500)
	got := unit.preprocess(long)

	runes := []rune(got)
	if len(runes) != 2003 { // 2000 content + "..."
		t.Errorf("truncated length = %d runes, want 2003", len(runes))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated content missing ellipsis")
	}
}
