package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/core/ports"
)

// Classifier assigns a taxonomy category to each document through the AI
// capability. A per-document failure never aborts the batch: the document is
// coerced to Other with confidence 0 and the error kept as rationale.
type Classifier struct {
	ai     ports.DocumentClassifier
	logger *slog.Logger
}

func NewClassifier(ai ports.DocumentClassifier, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{ai: ai, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, ref domain.DocumentRef) domain.Classification {
	cls, err := c.ai.Classify(ctx, ref, domain.Taxonomy())
	if err != nil {
		c.logger.Warn("classification_failed", "document_id", ref.ID, "document_name", ref.Name, "error", err)
		return domain.Classification{
			Ref:        ref,
			Category:   domain.CategoryOther,
			Confidence: 0,
			Rationale:  fmt.Sprintf("classification failed: %v", err),
			CreatedAt:  time.Now().UTC(),
		}
	}

	cls.Ref = ref
	if cls.CreatedAt.IsZero() {
		cls.CreatedAt = time.Now().UTC()
	}

	if category, ok := domain.InTaxonomy(string(cls.Category)); ok {
		cls.Category = category
		return cls
	}

	c.logger.Warn("classification_outside_taxonomy", "document_id", ref.ID, "category", cls.Category)
	return domain.Classification{
		Ref:        ref,
		Category:   domain.CategoryOther,
		Confidence: 0,
		Rationale:  fmt.Sprintf("unrecognized category %q: %s", cls.Category, cls.Rationale),
		CreatedAt:  cls.CreatedAt,
	}
}

// ClassifyBatch classifies each document independently.
func (c *Classifier) ClassifyBatch(ctx context.Context, refs []domain.DocumentRef) []domain.Classification {
	out := make([]domain.Classification, 0, len(refs))
	for _, ref := range refs {
		out = append(out, c.Classify(ctx, ref))
	}
	return out
}
