package schema

import (
	"fmt"
	"strings"

	"texttools/internal/services/llm"
)

// Instructions appends the answer-format contract for the descriptor to a
// caller-supplied system prompt.
func (d Descriptor) Instructions(base string) string {
	var b strings.Builder
	if base = strings.TrimSpace(base); base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	switch d.Kind {
	case KindCategories:
		fmt.Fprintf(&b, "Classify the user's text into exactly one of these categories: %s.\n", strings.Join(d.CategoryNames(), ", "))
		fmt.Fprintf(&b, "Respond with JSON only, in the form {%q: \"<category>\"}.", categoryKey)
	default:
		b.WriteString("Respond with a single JSON object containing these fields:\n")
		for _, field := range d.Fields {
			line := fmt.Sprintf("- %s (%s", field.Name, field.Type)
			if field.Required {
				line += ", required"
			}
			line += ")"
			if len(field.Enum) > 0 {
				line += " one of: " + strings.Join(field.Enum, ", ")
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("Respond with JSON only.")
	}
	return b.String()
}

// ResponseFormat returns the response_format payload constraining the model
// to the descriptor's JSON Schema. Structured descriptors are only sent in
// strict mode when every field is required, which strict decoding demands.
func (d Descriptor) ResponseFormat() map[string]any {
	strict := d.Kind == KindCategories
	if d.Kind == KindStructured && d.Strict {
		strict = true
		for _, field := range d.Fields {
			if !field.Required {
				strict = false
				break
			}
		}
	}
	return llm.SchemaFormat(d.SchemaName(), d.JSONSchema(), strict)
}
