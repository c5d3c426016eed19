package domain

// Flag values used by all yes/no fields of AnalysisResult.
const (
	FlagYes = "Y"
	FlagNo  = "N"
)

// DefaultMainInquiry is the marker written when a transcript could not be
// analyzed and needs a manual pass.
const DefaultMainInquiry = "분석 실패 - 수동 확인 필요"

// AnalysisResult is the fixed seven-field outcome of one transcript analysis.
// Every flag field holds exactly "Y" or "N" after normalization; when
// HasNudge is "N" the dependent fields (NudgeType, NudgeContent,
// CustomerResponse) are forced to "N", and when InappropriateNudge is "N"
// the reason is forced to "N". Instances are never mutated after validation.
type AnalysisResult struct {
	MainInquiry         string `json:"mainInquiry"`
	HasNudge            string `json:"hasNudge"`
	NudgeType           string `json:"nudgeType"`
	NudgeContent        string `json:"nudgeContent"`
	CustomerResponse    string `json:"customerResponse"`
	InappropriateNudge  string `json:"inappropriateNudge"`
	InappropriateReason string `json:"inappropriateReason"`
}

// DefaultAnalysisResult returns the manual-review fallback shape used when
// the model response could not be obtained or parsed.
func DefaultAnalysisResult() *AnalysisResult {
	return &AnalysisResult{
		MainInquiry:         DefaultMainInquiry,
		HasNudge:            FlagNo,
		NudgeType:           FlagNo,
		NudgeContent:        FlagNo,
		CustomerResponse:    FlagNo,
		InappropriateNudge:  FlagNo,
		InappropriateReason: FlagNo,
	}
}
