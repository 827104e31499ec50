package usecase

import (
	"log/slog"
	"strings"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/core/ports"
)

// PromptProvider resolves the freeform prompt for a category.
type PromptProvider func(category string) string

// Matcher maps a classified category to the best-fitting template, or signals
// that the freeform strategy should be used. Matching is a keyword overlap
// between the category label (plus configured synonyms) and each template's
// display name and field names; ties break on template creation order so
// repeated runs are reproducible.
type Matcher struct {
	catalog   ports.CatalogReader
	threshold float64
	keywords  map[string][]string
	prompts   PromptProvider
	logger    *slog.Logger
}

func NewMatcher(catalog ports.CatalogReader, threshold float64, keywords map[string][]string, prompts PromptProvider, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if prompts == nil {
		prompts = func(string) string { return "" }
	}
	if keywords == nil {
		keywords = map[string][]string{}
	}
	return &Matcher{
		catalog:   catalog,
		threshold: threshold,
		keywords:  keywords,
		prompts:   prompts,
		logger:    logger,
	}
}

// Match returns the best template for category, or ok=false when no template
// clears the threshold.
func (m *Matcher) Match(category domain.Category) (string, bool) {
	tokens := m.categoryTokens(category)
	if len(tokens) == 0 {
		return "", false
	}

	bestID := ""
	bestScore := 0.0
	bestPosition := 0
	for _, tmpl := range m.catalog.All() {
		score := overlapScore(tokens, templateTokens(tmpl))
		if score < m.threshold {
			continue
		}
		if bestID == "" || score > bestScore || (score == bestScore && tmpl.Position < bestPosition) {
			bestID = tmpl.ID
			bestScore = score
			bestPosition = tmpl.Position
		}
	}
	if bestID == "" {
		return "", false
	}
	m.logger.Debug("template_matched", "category", category, "template_id", bestID, "score", bestScore)
	return bestID, true
}

// PlanFor derives the extraction plan for one classified document. Overrides,
// when present for the category, take precedence over the computed match.
func (m *Matcher) PlanFor(cls domain.Classification, overrides map[domain.Category]domain.PlanOverride) domain.ExtractionPlan {
	plan := domain.ExtractionPlan{
		Ref:      cls.Ref,
		Category: cls.Category,
	}

	if override, ok := overrides[cls.Category]; ok {
		plan.Overridden = true
		plan.Strategy = override.Strategy
		plan.TemplateID = override.TemplateID
		plan.Prompt = override.Prompt
		if plan.Strategy == domain.StrategyFreeform && plan.Prompt == "" {
			plan.Prompt = m.prompts(string(cls.Category))
		}
		return plan
	}

	if id, ok := m.Match(cls.Category); ok {
		plan.Strategy = domain.StrategyTemplate
		plan.TemplateID = id
		return plan
	}

	plan.Strategy = domain.StrategyFreeform
	plan.Prompt = m.prompts(string(cls.Category))
	return plan
}

func (m *Matcher) categoryTokens(category domain.Category) map[string]struct{} {
	tokens := tokenize(string(category))
	for _, kw := range m.keywords[string(category)] {
		for t := range tokenize(kw) {
			tokens[t] = struct{}{}
		}
	}
	return tokens
}

func templateTokens(tmpl domain.Template) map[string]struct{} {
	tokens := tokenize(tmpl.DisplayName)
	for _, f := range tmpl.Fields {
		for t := range tokenize(f.Key) {
			tokens[t] = struct{}{}
		}
		for t := range tokenize(f.DisplayName) {
			tokens[t] = struct{}{}
		}
	}
	return tokens
}

// overlapScore is the fraction of category tokens present in the template's
// token set.
func overlapScore(category, template map[string]struct{}) float64 {
	if len(category) == 0 {
		return 0
	}
	matched := 0
	for t := range category {
		if _, ok := template[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(category))
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		out[singular(f)] = struct{}{}
	}
	return out
}

// singular trims a plain plural suffix so "invoices" matches "invoice".
func singular(s string) string {
	if len(s) > 3 && strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		return s[:len(s)-1]
	}
	return s
}
