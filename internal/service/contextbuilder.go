package service

import (
	"fmt"
	"strings"

	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/prompts"
)

const maxContextMatches = 3

// BuildContext assembles the reference-case block for the analysis prompt
// from retrieved similarity matches. It is a pure function: no retrieval, no
// IO. An empty match list yields the explicit no-reference marker so the
// prompt shape stays constant.
//
// Each match contributes a numbered line with the transcript excerpt
// truncated to excerptLen runes, annotated with the prior analysis result
// when one is attached.
func BuildContext(matches []domain.SimilarityMatch, excerptLen int) string {
	if len(matches) == 0 {
		return prompts.EmptyContextMarker
	}

	var b strings.Builder
	b.WriteString(prompts.ContextHeader)
	b.WriteString("\n")

	limit := len(matches)
	if limit > maxContextMatches {
		limit = maxContextMatches
	}

	for i := 0; i < limit; i++ {
		match := matches[i]
		b.WriteString(fmt.Sprintf("%d) %s", i+1, truncateRunes(match.Content, excerptLen)))
		if match.AnalysisResult != "" {
			b.WriteString(" -> ")
			b.WriteString(match.AnalysisResult)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// truncateRunes shortens s to at most limit runes, appending an ellipsis when
// anything was cut. Counting runes keeps multi-byte Korean text intact.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
