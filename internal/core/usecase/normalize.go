package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// envelopeKeys are transport-level keys that never carry extracted metadata.
var envelopeKeys = map[string]struct{}{
	"answer":            {},
	"error":             {},
	"items":             {},
	"response":          {},
	"item_collection":   {},
	"entries":           {},
	"type":              {},
	"id":                {},
	"sequence_id":       {},
	"completion_reason": {},
	"created_at":        {},
}

// Normalizer converts raw extraction payloads into the canonical per-document
// result. The store's AI endpoints answer in different shapes depending on the
// extraction path and API version, so decoding tries a fixed ordered list of
// shape strategies and accepts the first that yields at least one field. When
// every strategy comes up empty the result is flagged for manual review: a
// parse failure must never pass as a successful empty extraction.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

type shapeStrategy struct {
	shape   domain.RawShape
	extract func(raw domain.RawExtraction) map[string]domain.FieldValue
}

func (n *Normalizer) strategies() []shapeStrategy {
	return []shapeStrategy{
		{domain.ShapeAnswerObject, answerObjectFields},
		{domain.ShapeAnswerString, answerStringFields},
		{domain.ShapeNestedAnswer, nestedAnswerFields},
		{domain.ShapeEntriesList, entriesListFields},
		{domain.ShapeKeyValueList, keyValueListFields},
		{domain.ShapeTopLevelKeys, topLevelFields},
		{domain.ShapeFreeformText, freeformTextFields},
	}
}

func (n *Normalizer) Normalize(raw domain.RawExtraction, plan domain.ExtractionPlan) domain.NormalizedResult {
	result := domain.NormalizedResult{
		Ref:          plan.Ref,
		Fields:       map[string]domain.FieldValue{},
		Shape:        domain.ShapeUndetermined,
		FallbackUsed: raw.FallbackUsed,
		CreatedAt:    time.Now().UTC(),
	}

	for _, s := range n.strategies() {
		fields := s.extract(raw)
		if len(fields) == 0 {
			continue
		}
		result.Fields = fields
		result.Shape = s.shape
		n.logger.Debug("normalization_shape_matched",
			"document_id", plan.Ref.ID, "shape", s.shape, "fields", len(fields))
		return result
	}

	result.NeedsReview = true
	n.logger.Warn("normalization_exhausted", "document_id", plan.Ref.ID, "strategy", raw.Strategy)
	return result
}

func decodeObject(raw domain.RawExtraction) map[string]any {
	if len(raw.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw.Payload, &m); err != nil {
		return nil
	}
	return m
}

func answerObjectFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	m := decodeObject(raw)
	if m == nil {
		return nil
	}
	answer, ok := m["answer"].(map[string]any)
	if !ok {
		return nil
	}
	return fieldsFromMap(answer)
}

func answerStringFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	m := decodeObject(raw)
	if m == nil {
		return nil
	}
	s, ok := m["answer"].(string)
	if !ok {
		return nil
	}
	var answer map[string]any
	if err := json.Unmarshal([]byte(s), &answer); err != nil {
		return nil
	}
	return fieldsFromMap(answer)
}

func nestedAnswerFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	m := decodeObject(raw)
	if m == nil {
		return nil
	}
	resp, ok := m["response"].(map[string]any)
	if !ok {
		return nil
	}
	answer, ok := resp["answer"].(map[string]any)
	if !ok {
		return nil
	}
	return fieldsFromMap(answer)
}

func entriesListFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	m := decodeObject(raw)
	if m == nil {
		return nil
	}
	for _, key := range []string{"entries", "items"} {
		list, ok := m[key].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		first, ok := list[0].(map[string]any)
		if !ok {
			continue
		}
		if answer, ok := first["answer"].(map[string]any); ok {
			if fields := fieldsFromMap(answer); len(fields) > 0 {
				return fields
			}
		}
	}
	return nil
}

// keyValueListFields handles the API version answering with a list of
// {key, value} pairs, either at the top level or under "entries".
func keyValueListFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	if len(raw.Payload) == 0 {
		return nil
	}

	var list []any
	if err := json.Unmarshal(raw.Payload, &list); err != nil {
		m := decodeObject(raw)
		if m == nil {
			return nil
		}
		nested, ok := m["entries"].([]any)
		if !ok {
			return nil
		}
		list = nested
	}

	fields := map[string]domain.FieldValue{}
	for _, item := range list {
		pair, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, ok := pair["key"].(string)
		if !ok || key == "" {
			continue
		}
		fv, ok := toFieldValue(pair["value"])
		if !ok {
			continue
		}
		if c, ok := pair["confidence"].(float64); ok {
			fv.Confidence = c
		}
		fields[key] = fv
	}
	return fields
}

func topLevelFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	m := decodeObject(raw)
	if m == nil {
		return nil
	}
	fields := map[string]domain.FieldValue{}
	for key, value := range m {
		if _, skip := envelopeKeys[key]; skip {
			continue
		}
		if fv, ok := toFieldValue(value); ok {
			fields[key] = fv
		}
	}
	return fields
}

// freeformTextFields is the last resort: pull a JSON object out of prose if
// one is embedded, otherwise keep the whole text as a single field.
func freeformTextFields(raw domain.RawExtraction) map[string]domain.FieldValue {
	text := strings.TrimSpace(raw.Text)
	if text == "" && len(raw.Payload) > 0 {
		var s string
		if err := json.Unmarshal(raw.Payload, &s); err == nil {
			text = strings.TrimSpace(s)
		}
	}
	if text == "" {
		return nil
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var m map[string]any
		if err := json.Unmarshal([]byte(text[start:end+1]), &m); err == nil {
			if fields := fieldsFromMap(m); len(fields) > 0 {
				return fields
			}
		}
	}

	return map[string]domain.FieldValue{
		"extracted_text": {Value: text},
	}
}

func fieldsFromMap(m map[string]any) map[string]domain.FieldValue {
	fields := map[string]domain.FieldValue{}
	for key, value := range m {
		if fv, ok := toFieldValue(value); ok {
			fields[key] = fv
		}
	}
	return fields
}

// toFieldValue flattens one raw value. Structured responses sometimes wrap a
// value as {value, confidence}; scalars are stringified as-is.
func toFieldValue(v any) (domain.FieldValue, bool) {
	switch t := v.(type) {
	case nil:
		return domain.FieldValue{}, false
	case string:
		if strings.TrimSpace(t) == "" {
			return domain.FieldValue{}, false
		}
		return domain.FieldValue{Value: t}, true
	case bool:
		return domain.FieldValue{Value: strconv.FormatBool(t)}, true
	case float64:
		return domain.FieldValue{Value: formatNumber(t)}, true
	case map[string]any:
		inner, ok := t["value"]
		if !ok {
			return domain.FieldValue{}, false
		}
		fv, ok := toFieldValue(inner)
		if !ok {
			return domain.FieldValue{}, false
		}
		if c, ok := t["confidence"].(float64); ok {
			fv.Confidence = c
		}
		return fv, true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if fv, ok := toFieldValue(item); ok {
				parts = append(parts, fv.Value)
			}
		}
		if len(parts) == 0 {
			return domain.FieldValue{}, false
		}
		return domain.FieldValue{Value: strings.Join(parts, ", ")}, true
	default:
		return domain.FieldValue{Value: fmt.Sprintf("%v", t)}, true
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
