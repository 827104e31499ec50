package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/core/ports"
)

// TemplateCatalog caches the store's metadata templates for the lifetime of
// the process. The cache has no TTL; staleness is resolved only by Refresh.
type TemplateCatalog struct {
	source ports.TemplateSource
	logger *slog.Logger

	mu      sync.RWMutex
	byID    map[string]domain.Template
	ordered []domain.Template
	loaded  bool
}

func NewTemplateCatalog(source ports.TemplateSource, logger *slog.Logger) *TemplateCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateCatalog{
		source: source,
		logger: logger,
		byID:   map[string]domain.Template{},
	}
}

// FetchAll performs the initial load. A failure here leaves the catalog empty
// and is fatal to the pipeline: without templates there is no structured path.
func (c *TemplateCatalog) FetchAll(ctx context.Context) error {
	templates, err := c.source.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("fetch templates: %w", err)
	}
	c.swap(templates)
	c.logger.Info("template_catalog_loaded", "templates", len(templates))
	return nil
}

// Refresh re-fetches the catalog. On failure the prior cache is preserved and
// the error returned, so documents in flight keep a consistent snapshot.
func (c *TemplateCatalog) Refresh(ctx context.Context) error {
	templates, err := c.source.ListTemplates(ctx)
	if err != nil {
		c.logger.Warn("template_catalog_refresh_failed", "error", err)
		return fmt.Errorf("refresh templates: %w", err)
	}
	c.swap(templates)
	c.logger.Info("template_catalog_refreshed", "templates", len(templates))
	return nil
}

func (c *TemplateCatalog) swap(templates []domain.Template) {
	byID := make(map[string]domain.Template, len(templates))
	ordered := make([]domain.Template, len(templates))
	for i, t := range templates {
		if t.Position == 0 {
			t.Position = i
		}
		byID[t.ID] = t
		ordered[i] = t
	}

	c.mu.Lock()
	c.byID = byID
	c.ordered = ordered
	c.loaded = true
	c.mu.Unlock()
}

func (c *TemplateCatalog) Get(id string) (domain.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	if !ok {
		return domain.Template{}, domain.WrapError(domain.ErrTemplateNotFound, "catalog get", fmt.Errorf("template %q", id))
	}
	return t, nil
}

// All returns the cached templates in creation order.
func (c *TemplateCatalog) All() []domain.Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Template, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *TemplateCatalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
