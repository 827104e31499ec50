package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// SessionRepository persists per-run pipeline state so stages invoked at
// different times see validated, current inputs, and a re-run starts from a
// clean slate instead of leaking prior-run partial state.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS run_documents (
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	document_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS run_classifications (
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	category TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	rationale TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS run_plans (
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	category TEXT NOT NULL,
	strategy TEXT NOT NULL,
	template_id TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	overridden BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS run_results (
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	shape TEXT NOT NULL,
	needs_review BOOLEAN NOT NULL DEFAULT FALSE,
	fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	status TEXT NOT NULL,
	applied JSONB NOT NULL DEFAULT '[]'::jsonb,
	field_errors JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, document_id)
);

CREATE INDEX IF NOT EXISTS idx_run_documents_status ON run_documents(run_id, status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) CreateRun(ctx context.Context, runID string, refs []domain.DocumentRef) error {
	now := time.Now().UTC()
	for _, ref := range refs {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO run_documents (run_id, document_id, document_name, status, error_message, updated_at)
VALUES ($1, $2, $3, $4, '', $5)
ON CONFLICT (run_id, document_id) DO UPDATE
SET status = EXCLUDED.status, error_message = '', updated_at = EXCLUDED.updated_at
`, runID, ref.ID, ref.Name, string(domain.StatusPending), now)
		if err != nil {
			return fmt.Errorf("insert run document: %w", err)
		}
	}
	return nil
}

// ResetRun wipes every trace of a prior run with this id.
func (r *SessionRepository) ResetRun(ctx context.Context, runID string) error {
	for _, table := range []string{"run_outcomes", "run_results", "run_plans", "run_classifications", "run_documents"} {
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, table), runID); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func (r *SessionRepository) SaveClassification(ctx context.Context, runID string, cls domain.Classification) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO run_classifications (run_id, document_id, category, confidence, rationale, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, document_id) DO UPDATE
SET category = EXCLUDED.category, confidence = EXCLUDED.confidence,
    rationale = EXCLUDED.rationale, created_at = EXCLUDED.created_at
`, runID, cls.Ref.ID, string(cls.Category), cls.Confidence, cls.Rationale, cls.CreatedAt)
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

func (r *SessionRepository) SavePlan(ctx context.Context, runID string, plan domain.ExtractionPlan) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO run_plans (run_id, document_id, category, strategy, template_id, prompt, overridden)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, document_id) DO UPDATE
SET category = EXCLUDED.category, strategy = EXCLUDED.strategy, template_id = EXCLUDED.template_id,
    prompt = EXCLUDED.prompt, overridden = EXCLUDED.overridden
`, runID, plan.Ref.ID, string(plan.Category), string(plan.Strategy), plan.TemplateID, plan.Prompt, plan.Overridden)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (r *SessionRepository) SaveResult(ctx context.Context, runID string, res domain.NormalizedResult) error {
	fieldsJSON, err := json.Marshal(res.Fields)
	if err != nil {
		return fmt.Errorf("marshal result fields: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO run_results (run_id, document_id, fields, shape, needs_review, fallback_used, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, document_id) DO UPDATE
SET fields = EXCLUDED.fields, shape = EXCLUDED.shape, needs_review = EXCLUDED.needs_review,
    fallback_used = EXCLUDED.fallback_used, created_at = EXCLUDED.created_at
`, runID, res.Ref.ID, fieldsJSON, string(res.Shape), res.NeedsReview, res.FallbackUsed, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (r *SessionRepository) SaveOutcome(ctx context.Context, runID string, out domain.ApplicationOutcome) error {
	appliedJSON, err := json.Marshal(out.Applied)
	if err != nil {
		return fmt.Errorf("marshal applied fields: %w", err)
	}
	errorsJSON, err := json.Marshal(out.FieldErrors)
	if err != nil {
		return fmt.Errorf("marshal field errors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO run_outcomes (run_id, document_id, status, applied, field_errors, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, document_id) DO UPDATE
SET status = EXCLUDED.status, applied = EXCLUDED.applied, field_errors = EXCLUDED.field_errors,
    error_message = EXCLUDED.error_message, created_at = EXCLUDED.created_at
`, runID, out.Ref.ID, string(out.Status), appliedJSON, errorsJSON, out.Error, out.CreatedAt)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

func (r *SessionRepository) UpdateDocumentStatus(ctx context.Context, runID string, ref domain.DocumentRef, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE run_documents SET status = $3, error_message = $4, updated_at = $5
WHERE run_id = $1 AND document_id = $2
`, runID, ref.ID, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document status",
			fmt.Errorf("run %s document %s", runID, ref.ID))
	}
	return nil
}

// LoadRun reassembles the full per-document trail for a run.
func (r *SessionRepository) LoadRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT d.document_id, d.document_name, d.status, d.error_message,
       c.category, c.confidence, c.rationale, c.created_at,
       p.strategy, p.template_id, p.prompt, p.overridden,
       res.fields, res.shape, res.needs_review, res.fallback_used,
       o.status, o.applied, o.field_errors, o.error_message
FROM run_documents d
LEFT JOIN run_classifications c ON c.run_id = d.run_id AND c.document_id = d.document_id
LEFT JOIN run_plans p ON p.run_id = d.run_id AND p.document_id = d.document_id
LEFT JOIN run_results res ON res.run_id = d.run_id AND res.document_id = d.document_id
LEFT JOIN run_outcomes o ON o.run_id = d.run_id AND o.document_id = d.document_id
WHERE d.run_id = $1
ORDER BY d.document_id
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	summary := &domain.RunSummary{RunID: runID}
	for rows.Next() {
		var (
			record     domain.DocumentRecord
			status     string
			category   sql.NullString
			confidence sql.NullFloat64
			rationale  sql.NullString
			clsAt      sql.NullTime
			strategy   sql.NullString
			templateID sql.NullString
			prompt     sql.NullString
			overridden sql.NullBool
			fieldsRaw  []byte
			shape      sql.NullString
			needsRev   sql.NullBool
			fallback   sql.NullBool
			outStatus  sql.NullString
			appliedRaw []byte
			errorsRaw  []byte
			outError   sql.NullString
		)
		err := rows.Scan(
			&record.Ref.ID, &record.Ref.Name, &status, &record.Error,
			&category, &confidence, &rationale, &clsAt,
			&strategy, &templateID, &prompt, &overridden,
			&fieldsRaw, &shape, &needsRev, &fallback,
			&outStatus, &appliedRaw, &errorsRaw, &outError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		record.Status = domain.DocumentStatus(status)

		if category.Valid {
			record.Classification = &domain.Classification{
				Ref:        record.Ref,
				Category:   domain.Category(category.String),
				Confidence: confidence.Float64,
				Rationale:  rationale.String,
				CreatedAt:  clsAt.Time,
			}
		}
		if strategy.Valid {
			record.Plan = &domain.ExtractionPlan{
				Ref:        record.Ref,
				Category:   domain.Category(category.String),
				Strategy:   domain.StrategyKind(strategy.String),
				TemplateID: templateID.String,
				Prompt:     prompt.String,
				Overridden: overridden.Bool,
			}
		}
		if shape.Valid {
			result := &domain.NormalizedResult{
				Ref:          record.Ref,
				Fields:       map[string]domain.FieldValue{},
				Shape:        domain.RawShape(shape.String),
				NeedsReview:  needsRev.Bool,
				FallbackUsed: fallback.Bool,
			}
			if len(fieldsRaw) > 0 {
				if err := json.Unmarshal(fieldsRaw, &result.Fields); err != nil {
					return nil, fmt.Errorf("unmarshal result fields: %w", err)
				}
			}
			record.Result = result
		}
		if outStatus.Valid {
			outcome := &domain.ApplicationOutcome{
				Ref:    record.Ref,
				Status: domain.ApplicationStatus(outStatus.String),
				Error:  outError.String,
			}
			if len(appliedRaw) > 0 {
				if err := json.Unmarshal(appliedRaw, &outcome.Applied); err != nil {
					return nil, fmt.Errorf("unmarshal applied fields: %w", err)
				}
			}
			if len(errorsRaw) > 0 {
				if err := json.Unmarshal(errorsRaw, &outcome.FieldErrors); err != nil {
					return nil, fmt.Errorf("unmarshal field errors: %w", err)
				}
			}
			record.Outcome = outcome
		}
		summary.Records = append(summary.Records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	if len(summary.Records) == 0 {
		return nil, domain.WrapError(domain.ErrRunNotFound, "load run", fmt.Errorf("run %s", runID))
	}
	summary.Total = len(summary.Records)
	return summary, nil
}
