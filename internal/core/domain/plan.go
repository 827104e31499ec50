package domain

// StrategyKind selects the extraction path for a document.
type StrategyKind string

const (
	StrategyTemplate StrategyKind = "template"
	StrategyFreeform StrategyKind = "freeform"
)

// ExtractionPlan is the per-document routing decision. It is derived from the
// classification plus the matcher (or an operator override) and consumed
// exactly once by the router.
type ExtractionPlan struct {
	Ref        DocumentRef  `json:"ref"`
	Category   Category     `json:"category"`
	Strategy   StrategyKind `json:"strategy"`
	TemplateID string       `json:"template_id,omitempty"`
	Prompt     string       `json:"prompt,omitempty"`
	// Overridden marks plans pinned by an operator rather than computed.
	Overridden bool `json:"overridden"`
}

// RawShape tags the decoded form of an extraction response. The store's AI
// endpoints answer in several shapes depending on path and API version, so
// the raw result is a tagged variant rather than a probed map.
type RawShape string

const (
	ShapeAnswerObject RawShape = "answer-object"
	ShapeAnswerString RawShape = "answer-string"
	ShapeNestedAnswer RawShape = "nested-answer"
	ShapeEntriesList  RawShape = "entries-list"
	ShapeKeyValueList RawShape = "key-value-list"
	ShapeTopLevelKeys RawShape = "top-level-keys"
	ShapeFreeformText RawShape = "freeform-text"
	ShapeUndetermined RawShape = "undetermined"
)

// RawExtraction is the unnormalized response for one document. Transient:
// never persisted past normalization.
type RawExtraction struct {
	Ref      DocumentRef  `json:"ref"`
	Strategy StrategyKind `json:"strategy"`
	// FallbackUsed records that the template path failed and the freeform
	// safety net produced this payload.
	FallbackUsed bool `json:"fallback_used"`
	// Payload is the raw JSON body from the extraction endpoint; Text is set
	// instead when the freeform path answered with plain text.
	Payload []byte `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
}
