package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*SessionRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &SessionRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestCreateRunUpsertsEveryDocument(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	refs := []domain.DocumentRef{
		{ID: "f1", Name: "a.pdf"},
		{ID: "f2", Name: "b.pdf"},
	}
	for _, ref := range refs {
		mock.ExpectExec("INSERT INTO run_documents").
			WithArgs("run-1", ref.ID, ref.Name, string(domain.StatusPending), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := repo.CreateRun(context.Background(), "run-1", refs); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetRunDeletesDependentTablesFirst(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	for _, table := range []string{"run_outcomes", "run_results", "run_plans", "run_classifications", "run_documents"} {
		mock.ExpectExec("DELETE FROM " + table).
			WithArgs("run-1").
			WillReturnResult(sqlmock.NewResult(0, 3))
	}

	if err := repo.ResetRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("ResetRun() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateDocumentStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE run_documents").
		WithArgs("run-1", "missing", string(domain.StatusApplied), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateDocumentStatus(context.Background(), "run-1",
		domain.DocumentRef{ID: "missing"}, domain.StatusApplied, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveResultSerializesFields(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO run_results").
		WithArgs("run-1", "f1", []byte(`{"vendor":{"value":"Acme","confidence":0.9}}`),
			string(domain.ShapeAnswerObject), false, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveResult(context.Background(), "run-1", domain.NormalizedResult{
		Ref:       domain.DocumentRef{ID: "f1"},
		Fields:    map[string]domain.FieldValue{"vendor": {Value: "Acme", Confidence: 0.9}},
		Shape:     domain.ShapeAnswerObject,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadRunReturnsDomainNotFoundForUnknownRun(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	columns := []string{
		"document_id", "document_name", "status", "error_message",
		"category", "confidence", "rationale", "created_at",
		"strategy", "template_id", "prompt", "overridden",
		"fields", "shape", "needs_review", "fallback_used",
		"status", "applied", "field_errors", "error_message",
	}
	mock.ExpectQuery("FROM run_documents d").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.LoadRun(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadRunReassemblesPartialTrail(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	columns := []string{
		"document_id", "document_name", "status", "error_message",
		"category", "confidence", "rationale", "created_at",
		"strategy", "template_id", "prompt", "overridden",
		"fields", "shape", "needs_review", "fallback_used",
		"status", "applied", "field_errors", "error_message",
	}
	rows := sqlmock.NewRows(columns).
		AddRow(
			"f1", "a.pdf", string(domain.StatusNeedsReview), "freeform extraction: model down",
			string(domain.CategoryInvoice), 0.9, "line items", time.Now().UTC(),
			string(domain.StrategyTemplate), "invoice-v2", "", false,
			[]byte(`{}`), string(domain.ShapeUndetermined), true, false,
			nil, nil, nil, nil,
		)
	mock.ExpectQuery("FROM run_documents d").
		WithArgs("run-1").
		WillReturnRows(rows)

	summary, err := repo.LoadRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if summary.Total != 1 {
		t.Fatalf("expected 1 record, got %d", summary.Total)
	}
	record := summary.Records[0]
	if record.Classification == nil || record.Classification.Category != domain.CategoryInvoice {
		t.Fatalf("classification not reassembled: %+v", record.Classification)
	}
	if record.Plan == nil || record.Plan.TemplateID != "invoice-v2" {
		t.Fatalf("plan not reassembled: %+v", record.Plan)
	}
	if record.Result == nil || !record.Result.NeedsReview {
		t.Fatalf("result not reassembled: %+v", record.Result)
	}
	if record.Outcome != nil {
		t.Fatalf("missing outcome row must stay nil, got %+v", record.Outcome)
	}
}
