package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFreeformPrompt is used for any category without its own prompt.
const DefaultFreeformPrompt = "Extract key metadata from this document including dates, names, amounts, and other important information."

// Pipeline holds the operator-editable part of the pipeline: per-category
// freeform prompts and extra matcher keywords. Everything has a workable
// zero-config default.
type Pipeline struct {
	Prompts struct {
		Default    string            `yaml:"default"`
		Categories map[string]string `yaml:"categories"`
	} `yaml:"prompts"`
	// MatchKeywords adds synonyms per category considered by the template
	// matcher on top of the category label itself.
	MatchKeywords map[string][]string `yaml:"match_keywords"`
}

// LoadPipeline reads the YAML pipeline file. An empty path yields defaults.
func LoadPipeline(path string) (Pipeline, error) {
	var p Pipeline
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Pipeline{}, fmt.Errorf("read pipeline file: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("parse pipeline file: %w", err)
		}
	}
	if p.Prompts.Default == "" {
		p.Prompts.Default = DefaultFreeformPrompt
	}
	if p.Prompts.Categories == nil {
		p.Prompts.Categories = map[string]string{}
	}
	if p.MatchKeywords == nil {
		p.MatchKeywords = map[string][]string{}
	}
	return p, nil
}

// PromptFor returns the freeform prompt configured for category, falling back
// to the default prompt.
func (p Pipeline) PromptFor(category string) string {
	if prompt, ok := p.Prompts.Categories[category]; ok && prompt != "" {
		return prompt
	}
	return p.Prompts.Default
}
