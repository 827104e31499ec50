package domain

import (
	"strings"
	"time"
)

// Category is one label out of the fixed classification taxonomy.
type Category string

const (
	CategorySalesContract      Category = "Sales Contract"
	CategoryInvoice            Category = "Invoice"
	CategoryTax                Category = "Tax"
	CategoryFinancialReport    Category = "Financial Report"
	CategoryEmploymentContract Category = "Employment Contract"
	CategoryPII                Category = "PII"
	CategoryOther              Category = "Other"
)

// Taxonomy is the closed set of categories sent with every classification
// request so the model's output space stays constrained.
func Taxonomy() []Category {
	return []Category{
		CategorySalesContract,
		CategoryInvoice,
		CategoryTax,
		CategoryFinancialReport,
		CategoryEmploymentContract,
		CategoryPII,
		CategoryOther,
	}
}

// InTaxonomy reports whether label names a known category. Matching is
// case-insensitive because model responses drift in casing.
func InTaxonomy(label string) (Category, bool) {
	trimmed := strings.TrimSpace(label)
	for _, c := range Taxonomy() {
		if strings.EqualFold(string(c), trimmed) {
			return c, true
		}
	}
	return "", false
}

// DocumentRef identifies a file in the external document store. It is created
// by the file-selection surface and read-only inside the pipeline.
type DocumentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusClassifying DocumentStatus = "classifying"
	StatusMatching    DocumentStatus = "matching"
	StatusExtracting  DocumentStatus = "extracting"
	StatusNormalizing DocumentStatus = "normalizing"
	StatusApplying    DocumentStatus = "applying"
	StatusApplied     DocumentStatus = "applied"
	StatusPartial     DocumentStatus = "partially-applied"
	StatusFailed      DocumentStatus = "failed"
	StatusNeedsReview DocumentStatus = "needs-review"
)

// Classification is the classifier's verdict for one document. Immutable once
// produced for a run; a re-run replaces it wholesale.
type Classification struct {
	Ref        DocumentRef `json:"ref"`
	Category   Category    `json:"category"`
	Confidence float64     `json:"confidence"`
	Rationale  string      `json:"rationale"`
	CreatedAt  time.Time   `json:"created_at"`
}
