package docstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/infrastructure/resilience"
)

// Client is the HTTP adapter for the document store: template listing and
// metadata write-back. Transient failures retry through the resilience
// executor; conflicts and validation errors surface to the applier untouched.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(baseURL, token string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.Executor,
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, fn, classifyStoreError)
	} else {
		err = fn(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

type templateEnvelope struct {
	Entries []struct {
		ID          string `json:"id"`
		TemplateKey string `json:"templateKey"`
		DisplayName string `json:"displayName"`
		Fields      []struct {
			Key         string `json:"key"`
			DisplayName string `json:"displayName"`
			Type        string `json:"type"`
			Options     []struct {
				Key string `json:"key"`
			} `json:"options"`
		} `json:"fields"`
	} `json:"entries"`
}

// ListTemplates implements ports.TemplateSource. Entry order is the store's
// creation order and is preserved as the template position.
func (c *Client) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	var envelope templateEnvelope
	err := c.execute(ctx, "store.list_templates", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodGet, "/metadata_templates/enterprise", nil, &envelope, "list_templates")
	})
	if err != nil {
		return nil, err
	}

	templates := make([]domain.Template, 0, len(envelope.Entries))
	for i, entry := range envelope.Entries {
		id := entry.TemplateKey
		if id == "" {
			id = entry.ID
		}
		tmpl := domain.Template{
			ID:          id,
			DisplayName: entry.DisplayName,
			Position:    i,
		}
		for _, f := range entry.Fields {
			field := domain.FieldDefinition{
				Key:         f.Key,
				DisplayName: f.DisplayName,
				Type:        domain.FieldType(f.Type),
			}
			for _, opt := range f.Options {
				field.Options = append(field.Options, opt.Key)
			}
			tmpl.Fields = append(tmpl.Fields, field)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

func metadataPath(ref domain.DocumentRef, templateID string) string {
	scope, key := "enterprise", templateID
	if templateID == "" {
		scope, key = "global", "properties"
	}
	return fmt.Sprintf("/files/%s/metadata/%s/%s", url.PathEscape(ref.ID), scope, url.PathEscape(key))
}

// CreateMetadata implements ports.MetadataWriter. The store answers 409 when
// an instance already exists; in that case the same values are re-applied as
// replace operations, which keeps re-runs with identical values idempotent in
// effect.
func (c *Client) CreateMetadata(ctx context.Context, ref domain.DocumentRef, templateID string, values map[string]string) error {
	path := metadataPath(ref, templateID)

	err := c.execute(ctx, "store.create_metadata", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPost, path, values, nil, "create_metadata")
	})
	if err == nil {
		return nil
	}
	if !IsConflict(err) {
		return err
	}

	ops := make([]map[string]any, 0, len(values))
	for key, value := range values {
		ops = append(ops, map[string]any{
			"op":    "replace",
			"path":  "/" + key,
			"value": value,
		})
	}
	return c.execute(ctx, "store.update_metadata", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPut, path, ops, nil, "update_metadata")
	})
}

// UpdateMetadataField replaces one field, falling back to an add operation
// when the key does not exist on the instance yet.
func (c *Client) UpdateMetadataField(ctx context.Context, ref domain.DocumentRef, templateID, key, value string) error {
	path := metadataPath(ref, templateID)

	replaceOps := []map[string]any{{"op": "replace", "path": "/" + key, "value": value}}
	err := c.execute(ctx, "store.update_metadata", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPut, path, replaceOps, nil, "update_metadata")
	})
	if err == nil {
		return nil
	}

	addOps := []map[string]any{{"op": "add", "path": "/" + key, "value": value}}
	return c.execute(ctx, "store.update_metadata", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPut, path, addOps, nil, "update_metadata")
	})
}
