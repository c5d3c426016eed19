package service

import (
	"io"
	"reflect"
	"testing"

	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"github.com/lavaspoon/vectorrag/internal/prompts"
)

func newTestLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

func TestNormalize_ValidJSONWithCommentary(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	raw := "분석 결과는 다음과 같습니다:\n```json\n" +
		`{"mainInquiry":"요금제 변경 문의","hasNudge":"Y","nudgeType":"개인화추천",` +
		`"nudgeContent":"데이터 사용량에 맞는 요금제를 추천드려요","customerResponse":"Y",` +
		`"inappropriateNudge":"N","inappropriateReason":"N"}` + "\n```\n이상입니다."

	result := n.Normalize(raw)

	if result.MainInquiry != "요금제 변경 문의" {
		t.Errorf("unexpected mainInquiry: %q", result.MainInquiry)
	}
	if result.HasNudge != "Y" || result.NudgeType != "개인화추천" {
		t.Errorf("nudge fields not preserved: hasNudge=%q type=%q", result.HasNudge, result.NudgeType)
	}
	if result.CustomerResponse != "Y" {
		t.Errorf("expected customerResponse Y, got %q", result.CustomerResponse)
	}
}

func TestNormalize_FlagCoercion(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "lowercase y", raw: `{"mainInquiry":"a","hasNudge":"y","nudgeType":"손실회피","nudgeContent":"b","customerResponse":"N","inappropriateNudge":"N","inappropriateReason":"N"}`, want: "Y"},
		{name: "padded yes", raw: `{"mainInquiry":"a","hasNudge":" Y ","nudgeType":"손실회피","nudgeContent":"b","customerResponse":"N","inappropriateNudge":"N","inappropriateReason":"N"}`, want: "Y"},
		{name: "korean yes coerced to N", raw: `{"mainInquiry":"a","hasNudge":"예","nudgeType":"손실회피","nudgeContent":"b","customerResponse":"N","inappropriateNudge":"N","inappropriateReason":"N"}`, want: "N"},
		{name: "blank flag", raw: `{"mainInquiry":"a","hasNudge":"","nudgeType":"손실회피","nudgeContent":"b","customerResponse":"N","inappropriateNudge":"N","inappropriateReason":"N"}`, want: "N"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := n.Normalize(tt.raw)
			if result.HasNudge != tt.want {
				t.Errorf("hasNudge = %q, want %q", result.HasNudge, tt.want)
			}
		})
	}
}

func TestNormalize_DependentFieldForcing(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	// hasNudge lowercase n + populated dependent fields
	raw := `{"mainInquiry":"요금 문의","hasNudge":"n","nudgeType":"손실회피",` +
		`"nudgeContent":"손해보고 계세요","customerResponse":"Y",` +
		`"inappropriateNudge":"n","inappropriateReason":"강압적"}`

	result := n.Normalize(raw)

	if result.HasNudge != "N" {
		t.Fatalf("hasNudge = %q, want N", result.HasNudge)
	}
	if result.NudgeType != "N" || result.NudgeContent != "N" || result.CustomerResponse != "N" {
		t.Errorf("dependent fields not forced: type=%q content=%q response=%q",
			result.NudgeType, result.NudgeContent, result.CustomerResponse)
	}
	if result.InappropriateReason != "N" {
		t.Errorf("inappropriateReason = %q, want N", result.InappropriateReason)
	}
}

func TestNormalize_NudgeTypeLexiconPreserved(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	// Any type from the prompt's lexicon passes through untouched when the
	// nudge flag is set; the normalizer coerces flags, not the type text.
	for _, nudgeType := range prompts.NudgeTypes {
		t.Run(nudgeType, func(t *testing.T) {
			raw := `{"mainInquiry":"요금 문의","hasNudge":"Y","nudgeType":"` + nudgeType +
				`","nudgeContent":"안내","customerResponse":"Y","inappropriateNudge":"N","inappropriateReason":"N"}`

			result := n.Normalize(raw)
			if result.NudgeType != nudgeType {
				t.Errorf("nudgeType = %q, want %q", result.NudgeType, nudgeType)
			}
		})
	}
}

func TestNormalize_GarbageInput(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "no json", raw: "죄송합니다, 분석할 수 없습니다."},
		{name: "unclosed brace", raw: `{"mainInquiry":"abc"`},
		{name: "reversed braces", raw: `} not json {`},
		{name: "json array", raw: `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := n.Normalize(tt.raw)
			if result == nil {
				t.Fatal("Normalize returned nil")
			}
			if result.MainInquiry != domain.DefaultMainInquiry {
				t.Errorf("mainInquiry = %q, want manual-review default", result.MainInquiry)
			}
			if result.HasNudge != "N" {
				t.Errorf("hasNudge = %q, want N", result.HasNudge)
			}
		})
	}
}

func TestNormalize_MissingTextFallbacks(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	raw := `{"hasNudge":"Y","customerResponse":"Y","inappropriateNudge":"Y"}`
	result := n.Normalize(raw)

	if result.MainInquiry != missingInquiryFallback {
		t.Errorf("mainInquiry = %q, want %q", result.MainInquiry, missingInquiryFallback)
	}
	if result.NudgeType != "N" || result.NudgeContent != "N" {
		t.Errorf("missing nudge fields not defaulted: type=%q content=%q", result.NudgeType, result.NudgeContent)
	}
	if result.InappropriateReason != "N" {
		t.Errorf("inappropriateReason = %q, want N", result.InappropriateReason)
	}
}

func TestNormalize_ExtraFieldsTolerated(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	raw := `{"mainInquiry":"해지 문의","hasNudge":"N","nudgeType":"N","nudgeContent":"N",` +
		`"customerResponse":"N","inappropriateNudge":"N","inappropriateReason":"N",` +
		`"confidence":0.93,"reasoning":"..."}`

	result := n.Normalize(raw)
	if result.MainInquiry != "해지 문의" {
		t.Errorf("mainInquiry = %q", result.MainInquiry)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewResponseNormalizer(newTestLogger())

	raw := `{"mainInquiry":"결합상품 문의","hasNudge":"y","nudgeType":"결합혜택",` +
		`"nudgeContent":"인터넷이랑 같이 하시면 저렴해요","customerResponse":"n",` +
		`"inappropriateNudge":"N","inappropriateReason":""}`

	once := n.Normalize(raw)

	data := `{"mainInquiry":"` + once.MainInquiry + `","hasNudge":"` + once.HasNudge +
		`","nudgeType":"` + once.NudgeType + `","nudgeContent":"` + once.NudgeContent +
		`","customerResponse":"` + once.CustomerResponse + `","inappropriateNudge":"` + once.InappropriateNudge +
		`","inappropriateReason":"` + once.InappropriateReason + `"}`
	twice := n.Normalize(data)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalization not idempotent:\n once=%+v\ntwice=%+v", once, twice)
	}
}
