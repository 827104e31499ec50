package ai

import (
	"strings"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// buildClassificationPrompt constrains the model to the fixed taxonomy and a
// strict JSON reply.
func buildClassificationPrompt(taxonomy []domain.Category) string {
	labels := make([]string, 0, len(taxonomy))
	for _, c := range taxonomy {
		labels = append(labels, string(c))
	}

	return `You are a document classifier.
Classify this document into exactly one of the following categories:
` + strings.Join(labels, ", ") + `

Return a strict JSON object with keys:
category (one of the listed categories), confidence (number from 0 to 1), rationale (string).
No markdown, no extra keys.`
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
