package ports

import (
	"context"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// TemplateSource lists metadata templates owned by the document store.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]domain.Template, error)
}

// MetadataWriter applies extracted metadata back to the store.
type MetadataWriter interface {
	// CreateMetadata writes a whole metadata object under templateID. An empty
	// templateID targets the store's unstructured properties scope.
	CreateMetadata(ctx context.Context, ref domain.DocumentRef, templateID string, values map[string]string) error
	// UpdateMetadataField replaces a single field on an existing metadata
	// instance.
	UpdateMetadataField(ctx context.Context, ref domain.DocumentRef, templateID, key, value string) error
}

// DocumentClassifier asks the AI capability for a category, constrained to the
// given taxonomy.
type DocumentClassifier interface {
	Classify(ctx context.Context, ref domain.DocumentRef, taxonomy []domain.Category) (domain.Classification, error)
}

// MetadataExtractor issues structured or freeform extraction calls.
type MetadataExtractor interface {
	ExtractStructured(ctx context.Context, ref domain.DocumentRef, tmpl domain.Template) (domain.RawExtraction, error)
	ExtractFreeform(ctx context.Context, ref domain.DocumentRef, prompt string) (domain.RawExtraction, error)
}

// SessionStore persists per-run pipeline state across stages so a stage can
// validate its inputs are present before running, and a re-run can start from
// a clean slate.
type SessionStore interface {
	CreateRun(ctx context.Context, runID string, refs []domain.DocumentRef) error
	ResetRun(ctx context.Context, runID string) error
	SaveClassification(ctx context.Context, runID string, cls domain.Classification) error
	SavePlan(ctx context.Context, runID string, plan domain.ExtractionPlan) error
	SaveResult(ctx context.Context, runID string, res domain.NormalizedResult) error
	SaveOutcome(ctx context.Context, runID string, out domain.ApplicationOutcome) error
	UpdateDocumentStatus(ctx context.Context, runID string, ref domain.DocumentRef, status domain.DocumentStatus, errMessage string) error
	LoadRun(ctx context.Context, runID string) (*domain.RunSummary, error)
}

// RunQueue carries batch-run requests to the worker process.
type RunQueue interface {
	PublishRunRequested(ctx context.Context, req domain.RunRequest) error
	SubscribeRunRequested(ctx context.Context, handler func(context.Context, domain.RunRequest) error) error
}

// ReportWriter renders a finished run for operators.
type ReportWriter interface {
	WriteRunReport(summary *domain.RunSummary) ([]byte, error)
}
