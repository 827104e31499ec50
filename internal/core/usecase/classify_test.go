package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

type classifierFake struct {
	cls map[string]domain.Classification
	err error
}

func (f *classifierFake) Classify(_ context.Context, ref domain.DocumentRef, _ []domain.Category) (domain.Classification, error) {
	if f.err != nil {
		return domain.Classification{}, f.err
	}
	cls := f.cls[ref.ID]
	cls.Ref = ref
	return cls, nil
}

func TestClassifyKeepsInTaxonomyCategory(t *testing.T) {
	ai := &classifierFake{cls: map[string]domain.Classification{
		"f1": {Category: "invoice", Confidence: 0.92, Rationale: "totals and vendor block"},
	}}
	classifier := NewClassifier(ai, nil)

	cls := classifier.Classify(context.Background(), domain.DocumentRef{ID: "f1", Name: "inv.pdf"})
	if cls.Category != domain.CategoryInvoice {
		t.Fatalf("expected Invoice, got %q", cls.Category)
	}
	if cls.Confidence != 0.92 {
		t.Fatalf("expected confidence preserved, got %v", cls.Confidence)
	}
}

func TestClassifyCoercesUnknownCategoryToOther(t *testing.T) {
	ai := &classifierFake{cls: map[string]domain.Classification{
		"f1": {Category: "Purchase Order", Confidence: 0.8, Rationale: "po number"},
	}}
	classifier := NewClassifier(ai, nil)

	cls := classifier.Classify(context.Background(), domain.DocumentRef{ID: "f1"})
	if cls.Category != domain.CategoryOther {
		t.Fatalf("expected Other, got %q", cls.Category)
	}
	if cls.Confidence != 0 {
		t.Fatalf("expected confidence 0, got %v", cls.Confidence)
	}
	if !strings.Contains(cls.Rationale, "unrecognized category") {
		t.Fatalf("expected annotated rationale, got %q", cls.Rationale)
	}
}

func TestClassifyFailureYieldsOtherAndContinues(t *testing.T) {
	ai := &classifierFake{err: errors.New("rate limited")}
	classifier := NewClassifier(ai, nil)

	batch := classifier.ClassifyBatch(context.Background(), []domain.DocumentRef{
		{ID: "f1"}, {ID: "f2"},
	})
	if len(batch) != 2 {
		t.Fatalf("expected 2 results, got %d", len(batch))
	}
	for _, cls := range batch {
		if cls.Category != domain.CategoryOther || cls.Confidence != 0 {
			t.Fatalf("expected Other/0 on failure, got %+v", cls)
		}
		if !strings.Contains(cls.Rationale, "rate limited") {
			t.Fatalf("expected error in rationale, got %q", cls.Rationale)
		}
	}
}
