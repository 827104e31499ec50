package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/core/ports"
)

// Instrumentation receives per-document pipeline signals. Implemented by the
// Prometheus metrics; nil-safe throughout.
type Instrumentation interface {
	StartDocument()
	FinishDocument(status domain.DocumentStatus, duration time.Duration)
}

// Progress is a monotonically increasing completed/total counter, safe for
// concurrent increments from the worker pool.
type Progress struct {
	total     int64
	completed atomic.Int64
}

func (p *Progress) Done() int64  { return p.completed.Load() }
func (p *Progress) Total() int64 { return p.total }

// Runner drives a whole batch: classify, match, extract, normalize and apply
// each document through a bounded worker pool. Stages for one document are
// strictly sequential; documents are independent and unordered. Every document
// that enters a run leaves exactly one classification, plan, result and
// outcome behind, failures included.
type Runner struct {
	session     ports.SessionStore
	classifier  *Classifier
	matcher     *Matcher
	router      *Router
	normalizer  *Normalizer
	applier     *Applier
	concurrency int
	metrics     Instrumentation
	logger      *slog.Logger
}

func NewRunner(
	session ports.SessionStore,
	classifier *Classifier,
	matcher *Matcher,
	router *Router,
	normalizer *Normalizer,
	applier *Applier,
	concurrency int,
	metrics Instrumentation,
	logger *slog.Logger,
) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		session:     session,
		classifier:  classifier,
		matcher:     matcher,
		router:      router,
		normalizer:  normalizer,
		applier:     applier,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}
}

func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (*domain.RunSummary, error) {
	if len(req.Refs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run batch", fmt.Errorf("no documents in request"))
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	// A re-run must not leak prior-run partial state.
	if err := r.session.ResetRun(ctx, req.RunID); err != nil {
		return nil, fmt.Errorf("reset run state: %w", err)
	}
	if err := r.session.CreateRun(ctx, req.RunID, req.Refs); err != nil {
		return nil, fmt.Errorf("create run state: %w", err)
	}

	summary := &domain.RunSummary{
		RunID:     req.RunID,
		Total:     len(req.Refs),
		StartedAt: time.Now().UTC(),
	}
	progress := &Progress{total: int64(len(req.Refs))}

	refs := make(chan domain.DocumentRef)
	records := make(chan domain.DocumentRecord, len(req.Refs))

	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range refs {
				records <- r.runDocument(ctx, req, ref, progress)
			}
		}()
	}

	cancelledFrom := -1
	for i, ref := range req.Refs {
		select {
		case refs <- ref:
		case <-ctx.Done():
			cancelledFrom = i
		}
		if cancelledFrom >= 0 {
			break
		}
	}
	close(refs)

	// Documents never handed to a worker are still reported, with an explicit
	// cancellation error; in-flight ones finish on their own.
	if cancelledFrom >= 0 {
		for _, skipped := range req.Refs[cancelledFrom:] {
			records <- r.cancelledRecord(req.RunID, skipped)
			progress.completed.Add(1)
		}
	}
	wg.Wait()
	close(records)

	for record := range records {
		summary.Records = append(summary.Records, record)
	}
	summary.Completed = int(progress.Done())
	summary.EndedAt = time.Now().UTC()

	r.logger.Info("run_finished",
		"run_id", req.RunID,
		"total", summary.Total,
		"completed", summary.Completed,
		"duration_ms", summary.EndedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	return summary, nil
}

// runDocument executes the strictly sequential per-document pipeline. Stage
// errors become a status and diagnostic on the record, never a batch abort.
func (r *Runner) runDocument(ctx context.Context, req domain.RunRequest, ref domain.DocumentRef, progress *Progress) domain.DocumentRecord {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.StartDocument()
	}

	record := r.processStages(ctx, req, ref)

	progress.completed.Add(1)
	if r.metrics != nil {
		r.metrics.FinishDocument(record.Status, time.Since(start))
	}
	r.logger.Info("document_finished",
		"run_id", req.RunID,
		"document_id", ref.ID,
		"document_name", ref.Name,
		"status", record.Status,
		"progress", fmt.Sprintf("%d/%d", progress.Done(), progress.Total()),
	)
	return record
}

func (r *Runner) processStages(ctx context.Context, req domain.RunRequest, ref domain.DocumentRef) domain.DocumentRecord {
	record := domain.DocumentRecord{Ref: ref, Status: domain.StatusPending}
	runID := req.RunID

	r.setStatus(ctx, runID, ref, domain.StatusClassifying, "")
	cls := r.classifier.Classify(ctx, ref)
	record.Classification = &cls
	r.persist(ctx, "classification", ref, func() error { return r.session.SaveClassification(ctx, runID, cls) })

	r.setStatus(ctx, runID, ref, domain.StatusMatching, "")
	plan := r.matcher.PlanFor(cls, req.Overrides)
	record.Plan = &plan
	r.persist(ctx, "plan", ref, func() error { return r.session.SavePlan(ctx, runID, plan) })

	r.setStatus(ctx, runID, ref, domain.StatusExtracting, "")
	raw, extractErr := r.router.Process(ctx, plan)

	r.setStatus(ctx, runID, ref, domain.StatusNormalizing, "")
	var result domain.NormalizedResult
	if extractErr != nil {
		// The result record still exists, empty and flagged, so the document
		// is never silently dropped.
		result = domain.NormalizedResult{
			Ref:         ref,
			Fields:      map[string]domain.FieldValue{},
			Shape:       domain.ShapeUndetermined,
			NeedsReview: true,
			CreatedAt:   time.Now().UTC(),
		}
		record.Error = extractErr.Error()
	} else {
		result = r.normalizer.Normalize(raw, plan)
	}
	record.Result = &result
	r.persist(ctx, "result", ref, func() error { return r.session.SaveResult(ctx, runID, result) })

	r.setStatus(ctx, runID, ref, domain.StatusApplying, "")
	outcome := r.applier.Apply(ctx, result, plan)
	record.Outcome = &outcome
	r.persist(ctx, "outcome", ref, func() error { return r.session.SaveOutcome(ctx, runID, outcome) })

	record.Status = finalStatus(result, outcome)
	r.setStatus(ctx, runID, ref, record.Status, record.Error)
	return record
}

func (r *Runner) cancelledRecord(runID string, ref domain.DocumentRef) domain.DocumentRecord {
	record := domain.DocumentRecord{
		Ref:    ref,
		Status: domain.StatusFailed,
		Error:  "run cancelled before processing",
	}
	// Best-effort: the run context is gone, use a short-lived background one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.setStatus(ctx, runID, ref, domain.StatusFailed, record.Error)
	return record
}

func finalStatus(result domain.NormalizedResult, outcome domain.ApplicationOutcome) domain.DocumentStatus {
	if result.NeedsReview {
		return domain.StatusNeedsReview
	}
	switch outcome.Status {
	case domain.ApplicationApplied:
		return domain.StatusApplied
	case domain.ApplicationPartial:
		return domain.StatusPartial
	default:
		return domain.StatusFailed
	}
}

func (r *Runner) setStatus(ctx context.Context, runID string, ref domain.DocumentRef, status domain.DocumentStatus, errMessage string) {
	if err := r.session.UpdateDocumentStatus(ctx, runID, ref, status, errMessage); err != nil {
		r.logger.Warn("session_status_update_failed",
			"run_id", runID, "document_id", ref.ID, "status", status, "error", err)
	}
}

func (r *Runner) persist(ctx context.Context, what string, ref domain.DocumentRef, fn func() error) {
	if err := fn(); err != nil {
		r.logger.Warn("session_persist_failed", "record", what, "document_id", ref.ID, "error", err)
	}
}
