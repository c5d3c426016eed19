package service

import (
	"sync/atomic"
	"time"
)

// AnalysisMetrics tracks cumulative analysis outcomes since process start or
// the last reset. All counters are atomic so the batch loop and the API can
// touch them without locking.
type AnalysisMetrics struct {
	processed       atomic.Int64
	succeeded       atomic.Int64
	failed          atomic.Int64
	retries         atomic.Int64
	totalDurationMs atomic.Int64
	inFlight        atomic.Int64
}

// NewAnalysisMetrics creates a zeroed metrics set.
func NewAnalysisMetrics() *AnalysisMetrics {
	return &AnalysisMetrics{}
}

// RecordStart marks one record as in flight. Every start is balanced by
// exactly one RecordSuccess or RecordFailure.
func (m *AnalysisMetrics) RecordStart() {
	m.inFlight.Add(1)
}

// RecordSuccess counts one completed record and its processing time.
func (m *AnalysisMetrics) RecordSuccess(duration time.Duration) {
	m.inFlight.Add(-1)
	m.processed.Add(1)
	m.succeeded.Add(1)
	m.totalDurationMs.Add(duration.Milliseconds())
}

// RecordFailure counts one failed record and its processing time.
func (m *AnalysisMetrics) RecordFailure(duration time.Duration) {
	m.inFlight.Add(-1)
	m.processed.Add(1)
	m.failed.Add(1)
	m.totalDurationMs.Add(duration.Milliseconds())
}

// RecordRetry counts one completion retry attempt.
func (m *AnalysisMetrics) RecordRetry() {
	m.retries.Add(1)
}

// Reset zeroes the cumulative counters. The in-flight gauge reflects live
// work and is left untouched.
func (m *AnalysisMetrics) Reset() {
	m.processed.Store(0)
	m.succeeded.Store(0)
	m.failed.Store(0)
	m.retries.Store(0)
	m.totalDurationMs.Store(0)
}

// MetricsSnapshot is a point-in-time copy of the counters with derived rates.
type MetricsSnapshot struct {
	Processed     int64   `json:"processed"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	Retries       int64   `json:"retries"`
	InFlight      int64   `json:"in_flight"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
}

// Snapshot reads the counters. Individual loads are atomic; the snapshot as a
// whole is approximate while a batch is running, which is fine for reporting.
func (m *AnalysisMetrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Processed: m.processed.Load(),
		Succeeded: m.succeeded.Load(),
		Failed:    m.failed.Load(),
		Retries:   m.retries.Load(),
		InFlight:  m.inFlight.Load(),
	}
	if snap.Processed > 0 {
		snap.SuccessRate = float64(snap.Succeeded) / float64(snap.Processed)
		snap.AvgDurationMs = m.totalDurationMs.Load() / snap.Processed
	}
	return snap
}
