package service

import (
	"encoding/json"
	"strings"

	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
)

// missingInquiryFallback fills mainInquiry when the model returned valid JSON
// but left the summary out.
const missingInquiryFallback = "문의 내용 확인 필요"

// ResponseNormalizer turns raw model output into a consistent AnalysisResult.
// It never fails: anything unparseable collapses to the manual-review default
// so one malformed response cannot stall the batch.
type ResponseNormalizer struct {
	logger *logger.Logger
}

// NewResponseNormalizer creates a new ResponseNormalizer.
func NewResponseNormalizer(log *logger.Logger) *ResponseNormalizer {
	return &ResponseNormalizer{logger: log}
}

// Normalize extracts the JSON object from the raw response, parses it and
// enforces the field rules. The extraction spans the first "{" to the last
// "}" so surrounding commentary or markdown fencing is tolerated.
func (n *ResponseNormalizer) Normalize(response string) *domain.AnalysisResult {
	jsonPart, ok := extractJSON(response)
	if !ok {
		n.logger.WithField("response_length", len(response)).
			Warn("No JSON object found in model response, using default result")
		return domain.DefaultAnalysisResult()
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(jsonPart), &result); err != nil {
		n.logger.WithError(err).Warn("Failed to parse model response JSON, using default result")
		return domain.DefaultAnalysisResult()
	}

	n.clean(&result)
	return &result
}

func extractJSON(response string) (string, bool) {
	trimmed := strings.TrimSpace(response)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return trimmed[start : end+1], true
}

// clean coerces flags to Y/N and forces dependent fields so the stored result
// is internally consistent regardless of what the model produced.
func (n *ResponseNormalizer) clean(result *domain.AnalysisResult) {
	result.HasNudge = normalizeYN(result.HasNudge)
	result.CustomerResponse = normalizeYN(result.CustomerResponse)
	result.InappropriateNudge = normalizeYN(result.InappropriateNudge)

	if result.HasNudge == domain.FlagNo {
		result.NudgeType = domain.FlagNo
		result.NudgeContent = domain.FlagNo
		result.CustomerResponse = domain.FlagNo
	}

	if result.InappropriateNudge == domain.FlagNo {
		result.InappropriateReason = domain.FlagNo
	}

	if strings.TrimSpace(result.MainInquiry) == "" {
		result.MainInquiry = missingInquiryFallback
	}
	if strings.TrimSpace(result.NudgeType) == "" {
		result.NudgeType = domain.FlagNo
	}
	if strings.TrimSpace(result.NudgeContent) == "" {
		result.NudgeContent = domain.FlagNo
	}
	if strings.TrimSpace(result.InappropriateReason) == "" {
		result.InappropriateReason = domain.FlagNo
	}
}

// normalizeYN maps any casing or spacing of "y" to Y and everything else,
// including blanks, to N.
func normalizeYN(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), domain.FlagYes) {
		return domain.FlagYes
	}
	return domain.FlagNo
}
