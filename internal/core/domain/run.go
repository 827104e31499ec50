package domain

// PlanOverride pins a category to a strategy before routing, taking precedence
// over the computed match for every document sharing the category.
type PlanOverride struct {
	Strategy   StrategyKind `json:"strategy"`
	TemplateID string       `json:"template_id,omitempty"`
	Prompt     string       `json:"prompt,omitempty"`
}

// RunRequest asks the worker to process a batch of documents.
type RunRequest struct {
	RunID     string                    `json:"run_id"`
	Refs      []DocumentRef             `json:"refs"`
	Overrides map[Category]PlanOverride `json:"overrides,omitempty"`
}
