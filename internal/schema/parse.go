package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"texttools/internal/services/llm"
)

var (
	// ErrUnknownCategory marks output that names no declared category.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrInvalidPayload marks structured output that fails validation.
	ErrInvalidPayload = errors.New("invalid payload")
)

// categoryKey is the property name used for category answers in JSON mode.
const categoryKey = "category"

// Outcome is the per-item result of validating raw provider text.
type Outcome struct {
	Parsed bool   `json:"parsed"`
	Value  any    `json:"value,omitempty"`
	Raw    string `json:"raw,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success builds a parsed outcome.
func Success(raw string, value any) Outcome {
	return Outcome{Parsed: true, Value: value, Raw: raw}
}

// Failure builds a failed outcome carrying the raw text and the reason.
func Failure(raw string, err error) Outcome {
	msg := "validation failed"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Raw: raw, Error: msg}
}

// Parse validates raw provider text against the descriptor.
func (d Descriptor) Parse(raw string) Outcome {
	switch d.Kind {
	case KindCategories:
		return d.parseCategory(raw)
	case KindStructured:
		return d.parseStructured(raw)
	default:
		return Failure(raw, fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, d.Kind))
	}
}

func (d Descriptor) parseCategory(raw string) Outcome {
	candidate := categoryCandidate(raw)
	if candidate == "" {
		return Failure(raw, fmt.Errorf("%w: empty answer", ErrUnknownCategory))
	}
	folder := cases.Fold()
	key := folder.String(candidate)
	for _, cat := range d.Categories {
		for _, value := range cat.accepted() {
			if folder.String(value) == key {
				return Success(raw, cat.Name)
			}
		}
	}
	return Failure(raw, fmt.Errorf("%w: %q is not one of [%s]", ErrUnknownCategory, candidate, strings.Join(d.CategoryNames(), ", ")))
}

// categoryCandidate extracts the answer from either a bare label, a JSON
// string, or a JSON object carrying a category/label/result property.
func categoryCandidate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var decoded any
	if err := llm.DecodeLLMJSON(trimmed, &decoded); err == nil {
		switch v := decoded.(type) {
		case string:
			return strings.TrimSpace(v)
		case map[string]any:
			for _, key := range []string{categoryKey, "label", "result"} {
				if s, ok := v[key].(string); ok {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return strings.Trim(trimmed, " \t\r\n\"'`.")
}

func (d Descriptor) parseStructured(raw string) Outcome {
	var payload map[string]any
	if err := llm.DecodeLLMJSON(raw, &payload); err != nil {
		return Failure(raw, fmt.Errorf("%w: decode json: %v", ErrInvalidPayload, err))
	}
	if payload == nil {
		return Failure(raw, fmt.Errorf("%w: expected a JSON object", ErrInvalidPayload))
	}

	var problems []error
	declared := make(map[string]struct{}, len(d.Fields))
	for _, field := range d.Fields {
		declared[field.Name] = struct{}{}
		value, ok := payload[field.Name]
		if !ok || value == nil {
			if field.Required {
				problems = append(problems, fmt.Errorf("missing required field %q", field.Name))
			}
			continue
		}
		if err := checkField(field, value); err != nil {
			problems = append(problems, err)
		}
	}
	if d.Strict {
		var extra []string
		for key := range payload {
			if _, ok := declared[key]; !ok {
				extra = append(extra, key)
			}
		}
		sort.Strings(extra)
		for _, key := range extra {
			problems = append(problems, fmt.Errorf("unexpected field %q", key))
		}
	}
	if len(problems) > 0 {
		return Failure(raw, fmt.Errorf("%w: %w", ErrInvalidPayload, errors.Join(problems...)))
	}
	return Success(raw, payload)
}

func checkField(field Field, value any) error {
	ok := false
	switch field.Type {
	case TypeString:
		var s string
		s, ok = value.(string)
		if ok && len(field.Enum) > 0 && !containsString(field.Enum, s) {
			return fmt.Errorf("field %q: %q is not one of [%s]", field.Name, s, strings.Join(field.Enum, ", "))
		}
	case TypeNumber:
		_, ok = value.(float64)
	case TypeInteger:
		var f float64
		f, ok = value.(float64)
		ok = ok && f == math.Trunc(f)
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeArray:
		_, ok = value.([]any)
	case TypeObject:
		_, ok = value.(map[string]any)
	}
	if !ok {
		return fmt.Errorf("field %q: expected %s, got %s", field.Name, field.Type, jsonTypeName(value))
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
