package domain

import "time"

// AnalysisStatus represents the processing status of a transcript record.
// Transitions: StatusPending -> StatusProcessing -> StatusCompleted or
// StatusFailed. Manual reprocessing may re-enter StatusProcessing from a
// terminal state.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "PENDING"
	StatusProcessing AnalysisStatus = "PROCESSING"
	StatusCompleted  AnalysisStatus = "COMPLETED"
	StatusFailed     AnalysisStatus = "FAILED"
)

// TranscriptRecord is a stored customer-support call transcript together with
// its analysis result columns. The record of truth lives in the relational
// store; all status mutations go through the transcript repository.
type TranscriptRecord struct {
	ConsultationNumber  string         `gorm:"column:consultation_number;type:text;primaryKey" json:"consultation_number"`
	Consultant          string         `gorm:"column:consultant;type:text" json:"consultant"`
	ConsultationContent string         `gorm:"column:consultation_content;type:text" json:"consultation_content"`
	ConsultationTime    time.Time      `gorm:"column:consultation_time;index:idx_stt_consultation_time" json:"consultation_time"`
	MainInquiry         string         `gorm:"column:response1;type:text" json:"main_inquiry,omitempty"`
	HasNudge            string         `gorm:"column:response2" json:"has_nudge,omitempty"`
	NudgeType           string         `gorm:"column:response3" json:"nudge_type,omitempty"`
	NudgeContent        string         `gorm:"column:response4;type:text" json:"nudge_content,omitempty"`
	CustomerResponse    string         `gorm:"column:response5" json:"customer_response,omitempty"`
	InappropriateNudge  string         `gorm:"column:response6" json:"inappropriate_nudge,omitempty"`
	InappropriateReason string         `gorm:"column:response7;type:text" json:"inappropriate_reason,omitempty"`
	AnalysisStatus      AnalysisStatus `gorm:"column:analysis_status;index:idx_stt_analysis_status;default:PENDING" json:"analysis_status"`
	AnalysisDate        *time.Time     `gorm:"column:analysis_date" json:"analysis_date,omitempty"`
	CreatedAt           time.Time      `gorm:"column:created_date" json:"created_date"`
	UpdatedAt           time.Time      `gorm:"column:updated_date" json:"updated_date"`
}

// TableName returns the database table name for TranscriptRecord.
func (TranscriptRecord) TableName() string {
	return "tb_stt_data"
}

// ApplyResult copies the seven result fields of an AnalysisResult onto the
// record in memory. Persistence is the repository's job.
func (r *TranscriptRecord) ApplyResult(result *AnalysisResult) {
	r.MainInquiry = result.MainInquiry
	r.HasNudge = result.HasNudge
	r.NudgeType = result.NudgeType
	r.NudgeContent = result.NudgeContent
	r.CustomerResponse = result.CustomerResponse
	r.InappropriateNudge = result.InappropriateNudge
	r.InappropriateReason = result.InappropriateReason
}

// Result reconstructs the AnalysisResult from the record's stored columns.
// Returns nil when no result has been saved yet.
func (r *TranscriptRecord) Result() *AnalysisResult {
	if r.MainInquiry == "" {
		return nil
	}
	return &AnalysisResult{
		MainInquiry:         r.MainInquiry,
		HasNudge:            r.HasNudge,
		NudgeType:           r.NudgeType,
		NudgeContent:        r.NudgeContent,
		CustomerResponse:    r.CustomerResponse,
		InappropriateNudge:  r.InappropriateNudge,
		InappropriateReason: r.InappropriateReason,
	}
}

// SimilarityMatch is a prior transcript retrieved from the similarity index,
// read-only and scoped to a single analysis call.
type SimilarityMatch struct {
	Content            string  `json:"content"`
	Score              float32 `json:"score"`
	ConsultationNumber string  `json:"consultation_number"`
	Consultant         string  `json:"consultant"`
	AnalysisResult     string  `json:"analysis_result,omitempty"`
	ConsultationTime   string  `json:"consultation_time,omitempty"`
}
