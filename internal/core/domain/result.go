package domain

import "time"

// FieldValue is one extracted metadata value with the model's confidence.
// Freeform extractions carry confidence 0 (unknown).
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NormalizedResult is the canonical per-document extraction outcome, identical
// in shape regardless of which path produced it. It is the contract between
// normalization and everything downstream.
type NormalizedResult struct {
	Ref    DocumentRef           `json:"ref"`
	Fields map[string]FieldValue `json:"fields"`
	// Shape records which decoding strategy produced the fields, for
	// diagnostics.
	Shape RawShape `json:"shape"`
	// NeedsReview distinguishes "parsing failed" from "extraction truly found
	// nothing". A reviewed-flagged result is never applied as an empty success.
	NeedsReview bool `json:"needs_review"`
	// FallbackUsed carries the router's template->freeform fallback marker
	// through to reporting.
	FallbackUsed bool      `json:"fallback_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// ApplicationStatus is the terminal per-document write-back status.
type ApplicationStatus string

const (
	ApplicationApplied ApplicationStatus = "applied"
	ApplicationPartial ApplicationStatus = "partially-applied"
	ApplicationFailed  ApplicationStatus = "failed"
)

// FieldError records one field the store rejected.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ApplicationOutcome is the terminal record of how much extracted metadata was
// written back for one document. Not retried automatically.
type ApplicationOutcome struct {
	Ref         DocumentRef       `json:"ref"`
	Status      ApplicationStatus `json:"status"`
	Applied     []string          `json:"applied,omitempty"`
	FieldErrors []FieldError      `json:"field_errors,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DocumentRecord is the full per-document trail a run leaves behind: exactly
// one classification, plan, normalized result and outcome per document.
type DocumentRecord struct {
	Ref            DocumentRef         `json:"ref"`
	Status         DocumentStatus      `json:"status"`
	Classification *Classification     `json:"classification,omitempty"`
	Plan           *ExtractionPlan     `json:"plan,omitempty"`
	Result         *NormalizedResult   `json:"result,omitempty"`
	Outcome        *ApplicationOutcome `json:"outcome,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// RunSummary aggregates a finished batch.
type RunSummary struct {
	RunID     string           `json:"run_id"`
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Records   []DocumentRecord `json:"records"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}
