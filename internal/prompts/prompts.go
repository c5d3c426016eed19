package prompts

import "fmt"

// ============================================================================
// Context Assembly
// ============================================================================

// ContextHeader prefixes the reference-case block in the analysis prompt.
const ContextHeader = "참고사례:"

// EmptyContextMarker is used when no similar consultations were retrieved, so
// the model still receives a well-formed prompt.
const EmptyContextMarker = "참고 사례 없음"

// ============================================================================
// Nudge Analysis Prompt (LLM)
// ============================================================================

// NudgeTypes are the six recognized nudge categories. The model is instructed
// to answer with one of these or "N".
var NudgeTypes = []string{
	"생활패턴연결",
	"사회적증거",
	"손실회피",
	"개인화추천",
	"결합혜택",
	"한정혜택",
}

// analysisPromptTemplate asks the model to analyze consultant nudge activity
// in a telecom support transcript and answer with a single JSON object.
//
// Placeholders: 1) reference-case context block, 2) consultation content.
const analysisPromptTemplate = `통신사 상담에서 상담사의 넛지 활동을 분석해주세요.

%s

=== 상담 내용 ===
%s

=== 넛지 유형 ===
1. 생활패턴연결: 취미/습관 파악하여 서비스 연결
2. 사회적증거: "다른 고객들도", "인기 상품" 등
3. 손실회피: "손해보고 계세요", "놓치실 수 있어요"
4. 개인화추천: 고객 상황에 맞는 맞춤 제안
5. 결합혜택: 여러 서비스 묶어서 할인 강조
6. 한정혜택: 기간 한정, 특별 프로모션

=== 부적절한 넛지 ===
- 강압적 어조
- 개인정보 남용
- 허위 정보
- 불필요한 강요

아래 JSON 형태로만 답변하세요:
{
    "mainInquiry": "고객 문의 요약",
    "hasNudge": "Y 또는 N",
    "nudgeType": "위 6가지 중 하나 또는 N",
    "nudgeContent": "상담사 멘트 인용 또는 N",
    "customerResponse": "Y 또는 N",
    "inappropriateNudge": "Y 또는 N",
    "inappropriateReason": "이유 또는 N"
}`

// BuildAnalysisPrompt renders the nudge-analysis prompt with the assembled
// reference context and the preprocessed consultation content.
func BuildAnalysisPrompt(context, consultationContent string) string {
	return fmt.Sprintf(analysisPromptTemplate, context, consultationContent)
}
