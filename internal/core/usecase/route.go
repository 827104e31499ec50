package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/core/ports"
)

// Router executes one extraction plan. Transient failures are retried inside
// the extractor adapter; what surfaces here is terminal for its strategy. The
// single cross-strategy fallback lives here: a template extraction that fails
// terminally gets exactly one freeform attempt before the document is recorded
// as failed. Never the reverse.
type Router struct {
	extractor ports.MetadataExtractor
	catalog   ports.CatalogReader
	prompts   PromptProvider
	logger    *slog.Logger
}

func NewRouter(extractor ports.MetadataExtractor, catalog ports.CatalogReader, prompts PromptProvider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if prompts == nil {
		prompts = func(string) string { return "" }
	}
	return &Router{
		extractor: extractor,
		catalog:   catalog,
		prompts:   prompts,
		logger:    logger,
	}
}

// Process runs the plan and returns the raw extraction. The returned error is
// a terminal per-document failure.
func (r *Router) Process(ctx context.Context, plan domain.ExtractionPlan) (domain.RawExtraction, error) {
	switch plan.Strategy {
	case domain.StrategyTemplate:
		return r.processTemplate(ctx, plan)
	case domain.StrategyFreeform:
		return r.processFreeform(ctx, plan, false)
	default:
		return domain.RawExtraction{}, domain.WrapError(domain.ErrInvalidInput, "route extraction",
			fmt.Errorf("unknown strategy %q", plan.Strategy))
	}
}

func (r *Router) processTemplate(ctx context.Context, plan domain.ExtractionPlan) (domain.RawExtraction, error) {
	tmpl, err := r.catalog.Get(plan.TemplateID)
	if err == nil {
		r.logger.Info("extraction_attempt",
			"document_id", plan.Ref.ID, "document_name", plan.Ref.Name,
			"strategy", domain.StrategyTemplate, "template_id", plan.TemplateID)

		raw, extractErr := r.extractor.ExtractStructured(ctx, plan.Ref, tmpl)
		if extractErr == nil {
			raw.Ref = plan.Ref
			raw.Strategy = domain.StrategyTemplate
			r.logger.Info("extraction_succeeded", "document_id", plan.Ref.ID, "strategy", domain.StrategyTemplate)
			return raw, nil
		}
		err = extractErr
	}

	r.logger.Warn("template_extraction_failed_falling_back",
		"document_id", plan.Ref.ID, "template_id", plan.TemplateID, "error", err)
	return r.processFreeform(ctx, plan, true)
}

func (r *Router) processFreeform(ctx context.Context, plan domain.ExtractionPlan, fallback bool) (domain.RawExtraction, error) {
	prompt := plan.Prompt
	if prompt == "" {
		prompt = r.prompts(string(plan.Category))
	}

	r.logger.Info("extraction_attempt",
		"document_id", plan.Ref.ID, "document_name", plan.Ref.Name,
		"strategy", domain.StrategyFreeform, "fallback", fallback)

	raw, err := r.extractor.ExtractFreeform(ctx, plan.Ref, prompt)
	if err != nil {
		r.logger.Error("extraction_failed",
			"document_id", plan.Ref.ID, "strategy", domain.StrategyFreeform, "fallback", fallback, "error", err)
		return domain.RawExtraction{}, fmt.Errorf("freeform extraction: %w", err)
	}

	raw.Ref = plan.Ref
	raw.Strategy = domain.StrategyFreeform
	raw.FallbackUsed = fallback
	r.logger.Info("extraction_succeeded",
		"document_id", plan.Ref.ID, "strategy", domain.StrategyFreeform, "fallback", fallback)
	return raw, nil
}
