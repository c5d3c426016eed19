package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/repository"
)

// fakeIndex is an in-memory consultationIndex.
type fakeIndex struct {
	points    map[string]*repository.ConsultationPayload // keyed by consultation number
	checkErr  error
	insertErr error
	scrollErr error
	inserts   int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string]*repository.ConsultationPayload)}
}

func (f *fakeIndex) HasConsultation(_ context.Context, no string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	_, ok := f.points[no]
	return ok, nil
}

func (f *fakeIndex) InsertDocument(_ context.Context, _ string, _ []float32, payload *repository.ConsultationPayload) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts++
	f.points[payload.ConsultationNumber] = payload
	return nil
}

func (f *fakeIndex) ExistingConsultationNumbers(_ context.Context) (map[string]struct{}, error) {
	if f.scrollErr != nil {
		return nil, f.scrollErr
	}
	existing := make(map[string]struct{}, len(f.points))
	for no := range f.points {
		existing[no] = struct{}{}
	}
	return existing, nil
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return e.Embed(ctx, query)
}

// fakeCompletedLister serves a fixed completed-record set.
type fakeCompletedLister struct {
	records []domain.TranscriptRecord
	err     error
}

func (l *fakeCompletedLister) ListCompleted(_ context.Context) ([]domain.TranscriptRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.records, nil
}

func completedRecord(id string) *domain.TranscriptRecord {
	return &domain.TranscriptRecord{
		ConsultationNumber:  id,
		Consultant:          "agent-3",
		ConsultationContent: "상담 내용 " + id,
		ConsultationTime:    time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC),
		MainInquiry:         "요금 문의",
		HasNudge:            "N",
		NudgeType:           "N",
		NudgeContent:        "N",
		CustomerResponse:    "N",
		InappropriateNudge:  "N",
		InappropriateReason: "N",
		AnalysisStatus:      domain.StatusCompleted,
	}
}

func TestSync_InsertsOnce(t *testing.T) {
	index := newFakeIndex()
	svc := NewIndexSyncService(index, &fakeEmbedder{}, &fakeCompletedLister{}, newTestLogger())

	record := completedRecord("C-2001")
	result := record.Result()

	if !svc.Sync(context.Background(), record, result) {
		t.Fatal("first sync reported failure")
	}
	if svc.Sync(context.Background(), record, result) {
		t.Error("second sync with identical input must be skipped")
	}
	if index.inserts != 1 {
		t.Errorf("inserts = %d, want exactly 1", index.inserts)
	}

	payload := index.points["C-2001"]
	if payload == nil {
		t.Fatal("payload not stored")
	}
	if payload.Consultant != "agent-3" || payload.Content != "상담 내용 C-2001" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.AnalysisResult == "" {
		t.Error("serialized analysis result missing from payload")
	}
}

func TestSync_FailuresAbsorbed(t *testing.T) {
	record := completedRecord("C-2002")
	result := record.Result()

	tests := []struct {
		name  string
		index *fakeIndex
		embed *fakeEmbedder
	}{
		{name: "existence check fails", index: &fakeIndex{points: map[string]*repository.ConsultationPayload{}, checkErr: errors.New("grpc down")}, embed: &fakeEmbedder{}},
		{name: "embedding fails", index: newFakeIndex(), embed: &fakeEmbedder{err: errors.New("api down")}},
		{name: "insert fails", index: &fakeIndex{points: map[string]*repository.ConsultationPayload{}, insertErr: errors.New("write rejected")}, embed: &fakeEmbedder{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewIndexSyncService(tt.index, tt.embed, &fakeCompletedLister{}, newTestLogger())
			// Must not panic or propagate; reports false only.
			if svc.Sync(context.Background(), record, result) {
				t.Error("failed sync reported success")
			}
		})
	}
}

func TestReinitialize_InsertsOnlyDelta(t *testing.T) {
	index := newFakeIndex()
	already := completedRecord("C-3001")
	index.points["C-3001"] = &repository.ConsultationPayload{ConsultationNumber: "C-3001"}

	lister := &fakeCompletedLister{records: []domain.TranscriptRecord{
		*already,
		*completedRecord("C-3002"),
		*completedRecord("C-3003"),
	}}
	svc := NewIndexSyncService(index, &fakeEmbedder{}, lister, newTestLogger())

	indexed, err := svc.Reinitialize(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indexed != 2 {
		t.Errorf("indexed = %d, want 2", indexed)
	}
	if index.inserts != 2 {
		t.Errorf("inserts = %d, want 2 (already-indexed record must be skipped)", index.inserts)
	}
}

func TestReinitialize_ContinuesPastRecordFailures(t *testing.T) {
	index := newFakeIndex()
	lister := &fakeCompletedLister{records: []domain.TranscriptRecord{
		*completedRecord("C-3004"),
		*completedRecord("C-3005"),
	}}
	svc := NewIndexSyncService(index, &flakyEmbedder{failFirst: true}, lister, newTestLogger())

	indexed, err := svc.Reinitialize(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indexed != 1 {
		t.Errorf("indexed = %d, want 1 (one record failed, one succeeded)", indexed)
	}
}

func TestReinitialize_ScrollFailurePropagates(t *testing.T) {
	index := newFakeIndex()
	index.scrollErr = errors.New("scroll unavailable")
	svc := NewIndexSyncService(index, &fakeEmbedder{}, &fakeCompletedLister{}, newTestLogger())

	if _, err := svc.Reinitialize(context.Background()); err == nil {
		t.Error("expected error when the existence scan fails")
	}
}

// flakyEmbedder fails its first call only.
type flakyEmbedder struct {
	failFirst bool
	calls     int
}

func (e *flakyEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.failFirst && e.calls == 1 {
		return nil, errors.New("transient embed failure")
	}
	return []float32{0.5}, nil
}

func (e *flakyEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return e.Embed(ctx, query)
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("C-9001")
	b := PointID("C-9001")
	c := PointID("C-9002")

	if a != b {
		t.Errorf("PointID not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("distinct consultation numbers produced the same point ID")
	}
}
