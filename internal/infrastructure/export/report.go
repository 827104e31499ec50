package export

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// ReportWriter renders a finished run as an XLSX workbook with one row per
// document: classification, routing, normalization and application outcome.
type ReportWriter struct {
	logger *slog.Logger
}

func NewReportWriter(logger *slog.Logger) *ReportWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportWriter{logger: logger}
}

func (w *ReportWriter) WriteRunReport(summary *domain.RunSummary) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Run"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headers := []string{
		"Document ID",
		"Document Name",
		"Status",
		"Category",
		"Confidence",
		"Strategy",
		"Template",
		"Fallback Used",
		"Shape",
		"Fields Extracted",
		"Fields Applied",
		"Field Errors",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for rowIdx, record := range summary.Records {
		row := rowIdx + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, record.Ref.ID)
		write(2, record.Ref.Name)
		write(3, string(record.Status))

		if record.Classification != nil {
			write(4, string(record.Classification.Category))
			write(5, record.Classification.Confidence)
		}
		if record.Plan != nil {
			write(6, string(record.Plan.Strategy))
			write(7, record.Plan.TemplateID)
		}
		if record.Result != nil {
			write(8, record.Result.FallbackUsed)
			write(9, string(record.Result.Shape))
			write(10, len(record.Result.Fields))
		}
		if record.Outcome != nil {
			write(11, strings.Join(record.Outcome.Applied, ", "))
			write(12, fieldErrorsCell(record.Outcome.FieldErrors))
		}
		write(13, record.Error)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	w.logger.Info("run_report_written", "run_id", summary.RunID, "documents", len(summary.Records))
	return buf.Bytes(), nil
}

func fieldErrorsCell(errs []domain.FieldError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Key, fe.Message))
	}
	return strings.Join(parts, "; ")
}
