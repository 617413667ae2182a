package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
)

// Kind selects how raw output is validated.
type Kind string

const (
	KindCategories Kind = "categories"
	KindStructured Kind = "structured"
)

// FieldType is the JSON value type expected for a structured field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

var knownFieldTypes = map[FieldType]struct{}{
	TypeString:  {},
	TypeNumber:  {},
	TypeInteger: {},
	TypeBoolean: {},
	TypeArray:   {},
	TypeObject:  {},
}

// ErrInvalidDescriptor marks a descriptor that cannot be used to validate output.
var ErrInvalidDescriptor = errors.New("invalid output schema")

// Category is one member of a closed category set. Values lists additional
// textual answers accepted for the category; the name itself always matches.
type Category struct {
	Name   string   `json:"name"`
	Values []string `json:"values,omitempty"`
}

// Field is one member of a structured descriptor.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Enum restricts string fields to the listed values.
	Enum []string `json:"enum,omitempty"`
}

// Descriptor identifies how raw provider output must be parsed.
type Descriptor struct {
	Kind       Kind       `json:"kind"`
	Name       string     `json:"name,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Fields     []Field    `json:"fields,omitempty"`
	// Strict rejects structured payloads carrying fields not listed in Fields.
	Strict bool `json:"strict,omitempty"`
}

// Categories builds a category descriptor from bare category names.
func Categories(names ...string) Descriptor {
	cats := make([]Category, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cats = append(cats, Category{Name: name})
	}
	return Descriptor{Kind: KindCategories, Name: "category", Categories: cats}
}

// Structured builds a structured descriptor.
func Structured(name string, strict bool, fields ...Field) Descriptor {
	return Descriptor{Kind: KindStructured, Name: name, Fields: fields, Strict: strict}
}

// Detection is the yes/no preset: the model answers {"result": true|false}.
func Detection() Descriptor {
	return Structured("detection", true, Field{Name: "result", Type: TypeBoolean, Required: true})
}

// LoadFile reads a JSON-encoded descriptor from disk and validates it.
func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read schema file: %w", err)
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidDescriptor, path, err)
	}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// Validate reports whether the descriptor is well formed.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindCategories:
		return d.validateCategories()
	case KindStructured:
		return d.validateFields()
	case "":
		return fmt.Errorf("%w: kind required", ErrInvalidDescriptor)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, d.Kind)
	}
}

func (d Descriptor) validateCategories() error {
	if len(d.Categories) == 0 {
		return fmt.Errorf("%w: at least one category required", ErrInvalidDescriptor)
	}
	folder := cases.Fold()
	owners := make(map[string]string)
	names := make(map[string]struct{}, len(d.Categories))
	for _, cat := range d.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return fmt.Errorf("%w: category name required", ErrInvalidDescriptor)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidDescriptor, name)
		}
		names[name] = struct{}{}
		for _, value := range cat.accepted() {
			key := folder.String(value)
			if owner, ok := owners[key]; ok && owner != name {
				return fmt.Errorf("%w: value %q accepted by both %q and %q", ErrInvalidDescriptor, value, owner, name)
			}
			owners[key] = name
		}
	}
	return nil
}

func (d Descriptor) validateFields() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: at least one field required", ErrInvalidDescriptor)
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, field := range d.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return fmt.Errorf("%w: field name required", ErrInvalidDescriptor)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidDescriptor, name)
		}
		seen[name] = struct{}{}
		if _, ok := knownFieldTypes[field.Type]; !ok {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidDescriptor, name, field.Type)
		}
		if len(field.Enum) > 0 && field.Type != TypeString {
			return fmt.Errorf("%w: field %q: enum only applies to string fields", ErrInvalidDescriptor, name)
		}
	}
	return nil
}

// CategoryNames returns the category names in declaration order.
func (d Descriptor) CategoryNames() []string {
	names := make([]string, 0, len(d.Categories))
	for _, cat := range d.Categories {
		names = append(names, cat.Name)
	}
	return names
}

// accepted lists every textual answer mapping to the category.
func (c Category) accepted() []string {
	out := make([]string, 0, len(c.Values)+1)
	out = append(out, strings.TrimSpace(c.Name))
	for _, v := range c.Values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// JSONSchema renders the descriptor as a JSON Schema object suitable for an
// OpenAI-style response_format.
func (d Descriptor) JSONSchema() map[string]any {
	switch d.Kind {
	case KindCategories:
		values := make([]string, 0, len(d.Categories))
		for _, cat := range d.Categories {
			values = append(values, cat.accepted()...)
		}
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				categoryKey: map[string]any{"type": "string", "enum": values},
			},
			"required":             []string{categoryKey},
			"additionalProperties": false,
		}
	default:
		props := make(map[string]any, len(d.Fields))
		required := make([]string, 0, len(d.Fields))
		for _, field := range d.Fields {
			prop := map[string]any{"type": string(field.Type)}
			if len(field.Enum) > 0 {
				prop["enum"] = field.Enum
			}
			props[field.Name] = prop
			if field.Required {
				required = append(required, field.Name)
			}
		}
		out := map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		}
		if d.Strict {
			out["additionalProperties"] = false
		}
		return out
	}
}

// SchemaName returns the name used when advertising the schema to a provider.
func (d Descriptor) SchemaName() string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return name
	}
	if d.Kind == KindCategories {
		return "category"
	}
	return "result"
}
