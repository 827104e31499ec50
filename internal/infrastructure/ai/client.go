package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/infrastructure/resilience"
)

// Client talks to the document store's AI endpoints: ask (classification),
// extract (freeform) and extract_structured (templated). All calls go through
// a token-bucket rate limiter and the resilience executor, so what surfaces to
// callers is terminal for the attempted strategy.
type Client struct {
	baseURL    string
	token      string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	RequestsPerSecond float64
	Burst             int
	Executor          *resilience.Executor
}

func New(baseURL, token, model string, options Options) *Client {
	rps := options.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	burst := options.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		executor:   options.Executor,
	}
}

func (c *Client) agentPayload() map[string]any {
	return map[string]any{
		"type":       "ai_agent_extract",
		"long_text":  map[string]any{"model": c.model},
		"basic_text": map[string]any{"model": c.model},
	}
}

func itemsPayload(ref domain.DocumentRef) []map[string]any {
	return []map[string]any{{"id": ref.ID, "type": "file"}}
}

// call wraps one endpoint invocation with rate limiting and retry.
func (c *Client) call(ctx context.Context, operation, path string, payload any) ([]byte, error) {
	var body []byte
	fn := func(callCtx context.Context) error {
		if err := c.limiter.Wait(callCtx); err != nil {
			return err
		}
		var err error
		body, err = c.postJSON(callCtx, path, payload, operation)
		return err
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, fn, classifyAIError)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded(operation, err)
	}
	return body, nil
}

// Classify implements ports.DocumentClassifier.
func (c *Client) Classify(ctx context.Context, ref domain.DocumentRef, taxonomy []domain.Category) (domain.Classification, error) {
	payload := map[string]any{
		"mode":   "single_item_qa",
		"prompt": buildClassificationPrompt(taxonomy),
		"items":  itemsPayload(ref),
	}

	body, err := c.call(ctx, "ai.classify", "/ai/ask", payload)
	if err != nil {
		return domain.Classification{}, err
	}

	var envelope struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Classification{}, fmt.Errorf("decode classification envelope: %w", err)
	}

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(envelope.Answer)), &parsed); err != nil {
		return domain.Classification{}, fmt.Errorf("parse classification json: %w", err)
	}

	return domain.Classification{
		Ref:        ref,
		Category:   domain.Category(parsed.Category),
		Confidence: parsed.Confidence,
		Rationale:  parsed.Rationale,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// ExtractStructured implements the template side of ports.MetadataExtractor.
// The request carries the template's field definitions so the model's output
// is constrained to them.
func (c *Client) ExtractStructured(ctx context.Context, ref domain.DocumentRef, tmpl domain.Template) (domain.RawExtraction, error) {
	fields := make([]map[string]any, 0, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		field := map[string]any{
			"key":          f.Key,
			"display_name": f.DisplayName,
			"type":         string(f.Type),
		}
		if len(f.Options) > 0 {
			options := make([]map[string]any, 0, len(f.Options))
			for _, opt := range f.Options {
				options = append(options, map[string]any{"key": opt})
			}
			field["options"] = options
		}
		fields = append(fields, field)
	}

	payload := map[string]any{
		"items":    itemsPayload(ref),
		"fields":   fields,
		"ai_agent": c.agentPayload(),
	}

	body, err := c.call(ctx, "ai.extract_structured", "/ai/extract_structured", payload)
	if err != nil {
		return domain.RawExtraction{}, err
	}

	return domain.RawExtraction{
		Ref:      ref,
		Strategy: domain.StrategyTemplate,
		Payload:  body,
	}, nil
}

// ExtractFreeform implements the prompt side of ports.MetadataExtractor.
func (c *Client) ExtractFreeform(ctx context.Context, ref domain.DocumentRef, prompt string) (domain.RawExtraction, error) {
	payload := map[string]any{
		"items":    itemsPayload(ref),
		"prompt":   prompt,
		"ai_agent": c.agentPayload(),
	}

	body, err := c.call(ctx, "ai.extract", "/ai/extract", payload)
	if err != nil {
		return domain.RawExtraction{}, err
	}

	raw := domain.RawExtraction{
		Ref:      ref,
		Strategy: domain.StrategyFreeform,
		Payload:  body,
	}

	// The freeform endpoint usually answers {answer: "<text or json>"}; keep
	// the text handy for the normalizer's last-resort strategy.
	var envelope struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Answer != "" {
		raw.Text = envelope.Answer
	}
	return raw, nil
}
