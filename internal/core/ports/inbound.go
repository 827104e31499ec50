package ports

import (
	"context"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// BatchRunner is the inbound contract for executing one batch run end to end.
type BatchRunner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunSummary, error)
}

// CatalogReader exposes the cached template catalog to pipeline stages.
type CatalogReader interface {
	Get(id string) (domain.Template, error)
	All() []domain.Template
}
