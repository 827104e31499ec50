package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("AI_REQUESTS_PER_SECOND", "")
	t.Setenv("FILTER_PLACEHOLDERS", "")

	cfg := Load()
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.MatchThreshold != 0.3 {
		t.Fatalf("expected default match threshold 0.3, got %v", cfg.MatchThreshold)
	}
	if cfg.AIRPS != 2.0 {
		t.Fatalf("expected default AI rps 2.0, got %v", cfg.AIRPS)
	}
	if !cfg.FilterPlaceholders {
		t.Fatalf("expected placeholder filtering on by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("MATCH_THRESHOLD", "0.55")
	t.Setenv("NORMALIZE_KEYS", "false")

	cfg := Load()
	if cfg.WorkerConcurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.WorkerConcurrency)
	}
	if cfg.MatchThreshold != 0.55 {
		t.Fatalf("expected match threshold 0.55, got %v", cfg.MatchThreshold)
	}
	if cfg.NormalizeKeys {
		t.Fatalf("expected key normalization disabled")
	}
}

func TestLoadPipelineDefaultsWithoutFile(t *testing.T) {
	p, err := LoadPipeline("")
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	if p.Prompts.Default != DefaultFreeformPrompt {
		t.Fatalf("expected default prompt, got %q", p.Prompts.Default)
	}
	if got := p.PromptFor("Invoice"); got != DefaultFreeformPrompt {
		t.Fatalf("expected fallback prompt for Invoice, got %q", got)
	}
}

func TestLoadPipelineReadsCategoryPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := []byte(`
prompts:
  default: "Extract everything."
  categories:
    Invoice: "Extract vendor, invoice number, date and total amount."
match_keywords:
  Tax: ["vat", "withholding"]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write pipeline file: %v", err)
	}

	p, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	if got := p.PromptFor("Invoice"); got != "Extract vendor, invoice number, date and total amount." {
		t.Fatalf("unexpected invoice prompt: %q", got)
	}
	if got := p.PromptFor("Tax"); got != "Extract everything." {
		t.Fatalf("expected default prompt for Tax, got %q", got)
	}
	if len(p.MatchKeywords["Tax"]) != 2 {
		t.Fatalf("expected 2 tax keywords, got %v", p.MatchKeywords["Tax"])
	}
}
