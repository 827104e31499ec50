package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

type extractorFake struct {
	mu             sync.Mutex
	structuredErr  error
	freeformErr    error
	structuredReqs []string
	freeformReqs   []string
}

func (f *extractorFake) ExtractStructured(_ context.Context, _ domain.DocumentRef, tmpl domain.Template) (domain.RawExtraction, error) {
	f.mu.Lock()
	f.structuredReqs = append(f.structuredReqs, tmpl.ID)
	f.mu.Unlock()
	if f.structuredErr != nil {
		return domain.RawExtraction{}, f.structuredErr
	}
	return domain.RawExtraction{Payload: []byte(`{"answer": {"vendor": "Acme"}}`)}, nil
}

func (f *extractorFake) ExtractFreeform(_ context.Context, _ domain.DocumentRef, prompt string) (domain.RawExtraction, error) {
	f.mu.Lock()
	f.freeformReqs = append(f.freeformReqs, prompt)
	f.mu.Unlock()
	if f.freeformErr != nil {
		return domain.RawExtraction{}, f.freeformErr
	}
	return domain.RawExtraction{Text: "unstructured"}, nil
}

func templatePlan() domain.ExtractionPlan {
	return domain.ExtractionPlan{
		Ref:        domain.DocumentRef{ID: "f1", Name: "inv.pdf"},
		Category:   domain.CategoryInvoice,
		Strategy:   domain.StrategyTemplate,
		TemplateID: "invoice-v2",
	}
}

func TestRouterTemplateSuccess(t *testing.T) {
	extractor := &extractorFake{}
	router := NewRouter(extractor, matcherCatalog(), nil, nil)

	raw, err := router.Process(context.Background(), templatePlan())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if raw.Strategy != domain.StrategyTemplate || raw.FallbackUsed {
		t.Fatalf("unexpected raw: %+v", raw)
	}
	if len(extractor.freeformReqs) != 0 {
		t.Fatalf("freeform must not run when the template path succeeds")
	}
}

func TestRouterFallsBackToFreeformOnTemplateFailure(t *testing.T) {
	extractor := &extractorFake{structuredErr: errors.New("extraction agent rejected request")}
	prompts := func(string) string { return "describe the document" }
	router := NewRouter(extractor, matcherCatalog(), prompts, nil)

	raw, err := router.Process(context.Background(), templatePlan())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if raw.Strategy != domain.StrategyFreeform {
		t.Fatalf("expected freeform result after fallback, got %q", raw.Strategy)
	}
	if !raw.FallbackUsed {
		t.Fatalf("fallback flag must be set")
	}
	if len(extractor.freeformReqs) != 1 || extractor.freeformReqs[0] != "describe the document" {
		t.Fatalf("unexpected freeform calls: %v", extractor.freeformReqs)
	}
}

func TestRouterMissingTemplateFallsBack(t *testing.T) {
	extractor := &extractorFake{}
	router := NewRouter(extractor, matcherCatalog(), nil, nil)

	plan := templatePlan()
	plan.TemplateID = "deleted-template"
	raw, err := router.Process(context.Background(), plan)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !raw.FallbackUsed {
		t.Fatalf("expected fallback when the template vanished from the catalog")
	}
	if len(extractor.structuredReqs) != 0 {
		t.Fatalf("structured extraction must not run without a template")
	}
}

func TestRouterFreeformFailureIsTerminal(t *testing.T) {
	extractor := &extractorFake{freeformErr: errors.New("service unavailable")}
	router := NewRouter(extractor, matcherCatalog(), nil, nil)

	_, err := router.Process(context.Background(), domain.ExtractionPlan{
		Ref:      domain.DocumentRef{ID: "f1"},
		Category: domain.CategoryOther,
		Strategy: domain.StrategyFreeform,
		Prompt:   "extract everything",
	})
	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if len(extractor.structuredReqs) != 0 {
		t.Fatalf("freeform failure must never retry via the template path")
	}
}

func TestRouterTemplateFailureThenFreeformFailure(t *testing.T) {
	extractor := &extractorFake{
		structuredErr: errors.New("bad template"),
		freeformErr:   errors.New("model down"),
	}
	router := NewRouter(extractor, matcherCatalog(), nil, nil)

	_, err := router.Process(context.Background(), templatePlan())
	if err == nil {
		t.Fatalf("expected error when both strategies fail")
	}
	if len(extractor.structuredReqs) != 1 || len(extractor.freeformReqs) != 1 {
		t.Fatalf("expected exactly one attempt per strategy, got %d structured %d freeform",
			len(extractor.structuredReqs), len(extractor.freeformReqs))
	}
}
