package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/core/ports"
)

// placeholderIndicators mark values the model echoed back instead of
// extracting, e.g. "[insert date]".
var placeholderIndicators = []string{
	"insert", "placeholder", "<", ">", "[", "]",
	"enter", "fill in", "your", "example",
}

// ApplyOptions tune pre-application cleanup.
type ApplyOptions struct {
	// FilterPlaceholders drops values that look like template placeholders.
	FilterPlaceholders bool
	// NormalizeKeys lowercases keys and maps spaces/dashes to underscores so
	// they are valid store metadata keys.
	NormalizeKeys bool
}

// ApplyItem pairs a normalized result with the plan that produced it.
type ApplyItem struct {
	Result domain.NormalizedResult
	Plan   domain.ExtractionPlan
}

// Applier writes normalized metadata back to the store. Per document it tries
// a whole-object update first and degrades to field-by-field application when
// the store rejects the object, so one invalid value cannot sink the valid
// ones. Documents are independent: one failure never blocks the rest.
type Applier struct {
	writer  ports.MetadataWriter
	catalog ports.CatalogReader
	opts    ApplyOptions
	logger  *slog.Logger
}

func NewApplier(writer ports.MetadataWriter, catalog ports.CatalogReader, opts ApplyOptions, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{writer: writer, catalog: catalog, opts: opts, logger: logger}
}

func (a *Applier) ApplyBatch(ctx context.Context, items []ApplyItem) []domain.ApplicationOutcome {
	out := make([]domain.ApplicationOutcome, 0, len(items))
	for _, item := range items {
		out = append(out, a.Apply(ctx, item.Result, item.Plan))
	}
	return out
}

func (a *Applier) Apply(ctx context.Context, res domain.NormalizedResult, plan domain.ExtractionPlan) domain.ApplicationOutcome {
	outcome := domain.ApplicationOutcome{
		Ref:       res.Ref,
		Status:    domain.ApplicationFailed,
		CreatedAt: time.Now().UTC(),
	}

	if res.NeedsReview {
		outcome.Error = "flagged for manual review: no parseable fields"
		return outcome
	}

	values := a.prepareValues(res.Fields)
	if len(values) == 0 {
		outcome.Error = "no valid metadata after filtering placeholders"
		return outcome
	}

	templateID := ""
	if plan.Strategy == domain.StrategyTemplate && !res.FallbackUsed {
		templateID = plan.TemplateID
		values, outcome.FieldErrors = a.restrictToTemplate(templateID, values)
		if len(values) == 0 {
			outcome.Error = fmt.Sprintf("no extracted fields match template %s", templateID)
			return outcome
		}
	}

	keys := sortedKeys(values)

	createErr := a.writer.CreateMetadata(ctx, res.Ref, templateID, values)
	if createErr == nil {
		outcome.Applied = keys
		outcome.Status = statusFor(len(keys), len(outcome.FieldErrors))
		a.logger.Info("metadata_applied",
			"document_id", res.Ref.ID, "template_id", templateID, "fields", len(keys))
		return outcome
	}
	a.logger.Warn("whole_object_apply_rejected_degrading",
		"document_id", res.Ref.ID, "template_id", templateID, "error", createErr)
	outcome.Error = createErr.Error()

	// The store can reject a whole update for one invalid value; apply each
	// field on its own so the valid ones still land.
	for _, key := range keys {
		if err := a.writer.UpdateMetadataField(ctx, res.Ref, templateID, key, values[key]); err != nil {
			outcome.FieldErrors = append(outcome.FieldErrors, domain.FieldError{Key: key, Message: err.Error()})
			continue
		}
		outcome.Applied = append(outcome.Applied, key)
	}

	outcome.Status = statusFor(len(outcome.Applied), len(outcome.FieldErrors))
	if outcome.Status != domain.ApplicationFailed {
		outcome.Error = ""
	}
	a.logger.Info("metadata_application_finished",
		"document_id", res.Ref.ID, "status", outcome.Status,
		"applied", len(outcome.Applied), "failed_fields", len(outcome.FieldErrors))
	return outcome
}

func statusFor(applied, failed int) domain.ApplicationStatus {
	switch {
	case applied == 0:
		return domain.ApplicationFailed
	case failed == 0:
		return domain.ApplicationApplied
	default:
		return domain.ApplicationPartial
	}
}

func (a *Applier) prepareValues(fields map[string]domain.FieldValue) map[string]string {
	values := map[string]string{}
	for key, fv := range fields {
		if a.opts.FilterPlaceholders && isPlaceholder(fv.Value) {
			continue
		}
		if a.opts.NormalizeKeys {
			key = normalizeKey(key)
		}
		if key == "" {
			continue
		}
		values[key] = fv.Value
	}
	return values
}

// restrictToTemplate keeps only keys the template defines; the rest are
// recorded as field errors so the caller can tell partial from full.
func (a *Applier) restrictToTemplate(templateID string, values map[string]string) (map[string]string, []domain.FieldError) {
	tmpl, err := a.catalog.Get(templateID)
	if err != nil {
		return values, nil
	}

	kept := map[string]string{}
	var errs []domain.FieldError
	for _, key := range sortedKeys(values) {
		if _, ok := tmpl.Field(key); ok {
			kept[key] = values[key]
			continue
		}
		errs = append(errs, domain.FieldError{
			Key:     key,
			Message: fmt.Sprintf("field not defined in template %s", templateID),
		})
	}
	return kept, errs
}

func isPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, indicator := range placeholderIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
