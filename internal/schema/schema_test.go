package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCategoryParse(t *testing.T) {
	desc := Descriptor{
		Kind: KindCategories,
		Categories: []Category{
			{Name: "Positive", Values: []string{"good"}},
			{Name: "Negative"},
		},
	}
	if err := desc.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	cases := []struct {
		name   string
		raw    string
		want   string
		parsed bool
	}{
		{"bare label", "positive", "Positive", true},
		{"padded label", "  NEGATIVE.\n", "Negative", true},
		{"alias", "Good", "Positive", true},
		{"json object", `{"category":"negative"}`, "Negative", true},
		{"code fence", "```json\n{\"category\":\"Positive\"}\n```", "Positive", true},
		{"json string", `"negative"`, "Negative", true},
		{"unknown", "neutral", "", false},
		{"empty", "   ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := desc.Parse(tc.raw)
			if out.Parsed != tc.parsed {
				t.Fatalf("expected parsed=%v, got %+v", tc.parsed, out)
			}
			if tc.parsed && out.Value != tc.want {
				t.Fatalf("expected %q, got %v", tc.want, out.Value)
			}
			if !tc.parsed {
				if out.Raw != tc.raw {
					t.Fatalf("expected raw text preserved, got %q", out.Raw)
				}
				if out.Error == "" {
					t.Fatal("expected failure reason")
				}
			}
		})
	}
}

func TestStructuredParse(t *testing.T) {
	desc := Structured("detection", true,
		Field{Name: "result", Type: TypeBoolean, Required: true},
		Field{Name: "confidence", Type: TypeNumber},
		Field{Name: "count", Type: TypeInteger},
		Field{Name: "tone", Type: TypeString, Enum: []string{"formal", "casual"}},
	)
	if err := desc.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	ok := desc.Parse(`{"result":true,"confidence":0.9,"count":3,"tone":"casual"}`)
	if !ok.Parsed {
		t.Fatalf("expected parsed outcome, got %+v", ok)
	}
	payload, isMap := ok.Value.(map[string]any)
	if !isMap || payload["result"] != true {
		t.Fatalf("unexpected value %#v", ok.Value)
	}

	failures := []struct {
		name    string
		raw     string
		snippet string
	}{
		{"missing required", `{"confidence":0.5}`, `missing required field "result"`},
		{"wrong type", `{"result":"yes"}`, `field "result": expected boolean, got string`},
		{"not integer", `{"result":true,"count":1.5}`, `field "count": expected integer`},
		{"enum", `{"result":false,"tone":"angry"}`, `"angry" is not one of`},
		{"strict extra", `{"result":false,"extra":1}`, `unexpected field "extra"`},
		{"not json", `definitely`, "decode json"},
		{"array", `[1,2]`, "decode json"},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			out := desc.Parse(tc.raw)
			if out.Parsed {
				t.Fatalf("expected failure, got %+v", out)
			}
			if !strings.Contains(out.Error, tc.snippet) {
				t.Fatalf("expected error containing %q, got %q", tc.snippet, out.Error)
			}
		})
	}

	nullable := desc.Parse(`{"result":false,"confidence":null}`)
	if !nullable.Parsed {
		t.Fatalf("optional null should parse, got %+v", nullable)
	}
}

func TestDescriptorValidate(t *testing.T) {
	cases := []struct {
		name string
		desc Descriptor
	}{
		{"no kind", Descriptor{}},
		{"unknown kind", Descriptor{Kind: "vector"}},
		{"no categories", Descriptor{Kind: KindCategories}},
		{"duplicate category", Categories("a", "a")},
		{"ambiguous alias", Descriptor{Kind: KindCategories, Categories: []Category{{Name: "a", Values: []string{"x"}}, {Name: "b", Values: []string{"X"}}}}},
		{"no fields", Descriptor{Kind: KindStructured}},
		{"bad type", Structured("r", false, Field{Name: "x", Type: "date"})},
		{"duplicate field", Structured("r", false, Field{Name: "x", Type: TypeString}, Field{Name: "x", Type: TypeNumber})},
		{"enum on number", Structured("r", false, Field{Name: "x", Type: TypeNumber, Enum: []string{"1"}})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.desc.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
			}
		})
	}
}

func TestCategoriesSkipsBlankNames(t *testing.T) {
	desc := Categories(" spam ", "", "ham")
	if got := desc.CategoryNames(); len(got) != 2 || got[0] != "spam" || got[1] != "ham" {
		t.Fatalf("unexpected categories %v", got)
	}
}

func TestJSONSchemaCategories(t *testing.T) {
	desc := Descriptor{Kind: KindCategories, Categories: []Category{{Name: "yes", Values: []string{"y"}}, {Name: "no"}}}
	js := desc.JSONSchema()
	props := js["properties"].(map[string]any)
	enum := props["category"].(map[string]any)["enum"].([]string)
	if strings.Join(enum, ",") != "yes,y,no" {
		t.Fatalf("unexpected enum %v", enum)
	}
	if desc.SchemaName() != "category" {
		t.Fatalf("unexpected schema name %q", desc.SchemaName())
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	body := `{"kind":"structured","name":"q","fields":[{"name":"result","type":"boolean","required":true}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	desc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if desc.Kind != KindStructured || len(desc.Fields) != 1 {
		t.Fatalf("unexpected descriptor %+v", desc)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatalf("write bad schema: %v", err)
	}
	if _, err := LoadFile(bad); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestInstructionsAndResponseFormat(t *testing.T) {
	desc := Categories("spam", "ham")
	prompt := desc.Instructions("You moderate comments.")
	if !strings.HasPrefix(prompt, "You moderate comments.") || !strings.Contains(prompt, "spam, ham") {
		t.Fatalf("unexpected instructions %q", prompt)
	}
	format := desc.ResponseFormat()
	inner := format["json_schema"].(map[string]any)
	if format["type"] != "json_schema" || inner["strict"] != true || inner["name"] != "category" {
		t.Fatalf("unexpected response format %v", format)
	}

	loose := Structured("q", true, Field{Name: "a", Type: TypeString, Required: true}, Field{Name: "b", Type: TypeNumber})
	if loose.ResponseFormat()["json_schema"].(map[string]any)["strict"] != false {
		t.Fatal("expected non-strict format when a field is optional")
	}
	if !strings.Contains(loose.Instructions(""), "- a (string, required)") {
		t.Fatalf("unexpected structured instructions %q", loose.Instructions(""))
	}
}

func TestDetectionPreset(t *testing.T) {
	desc := Detection()
	if err := desc.Validate(); err != nil {
		t.Fatalf("Detection descriptor invalid: %v", err)
	}
	cases := []struct {
		raw    string
		parsed bool
		want   bool
	}{
		{raw: `{"result": true}`, parsed: true, want: true},
		{raw: "```json\n{\"result\": false}\n```", parsed: true, want: false},
		{raw: `{"result": "yes"}`},
		{raw: `{"result": true, "why": "x"}`},
		{raw: `{}`},
	}
	for _, tc := range cases {
		outcome := desc.Parse(tc.raw)
		if outcome.Parsed != tc.parsed {
			t.Fatalf("Parse(%q) parsed=%v, want %v (%s)", tc.raw, outcome.Parsed, tc.parsed, outcome.Error)
		}
		if tc.parsed {
			value := outcome.Value.(map[string]any)
			if value["result"] != tc.want {
				t.Fatalf("Parse(%q) result=%v, want %v", tc.raw, value["result"], tc.want)
			}
		}
	}
	if format := desc.ResponseFormat(); format["json_schema"].(map[string]any)["strict"] != true {
		t.Fatalf("expected strict response format, got %v", format)
	}
}
