package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"texttools/internal/batch"
	"texttools/internal/schema"
)

type schemaFlags struct {
	categories []string
	schemaPath string
	detect     bool
}

func (f *schemaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.categories, "categories", nil, "Comma-separated category labels")
	cmd.Flags().StringVar(&f.schemaPath, "schema", "", "Path to a JSON output schema descriptor")
	cmd.Flags().BoolVar(&f.detect, "detect", false, "Answer true or false for each text")
}

func (f *schemaFlags) descriptor() (schema.Descriptor, error) {
	hasCategories := len(f.categories) > 0
	hasSchema := strings.TrimSpace(f.schemaPath) != ""
	chosen := 0
	for _, set := range []bool{hasCategories, hasSchema, f.detect} {
		if set {
			chosen++
		}
	}
	switch {
	case chosen > 1:
		return schema.Descriptor{}, errors.New("use only one of --categories, --schema or --detect, not both")
	case f.detect:
		return schema.Detection(), nil
	case hasCategories:
		desc := schema.Categories(f.categories...)
		if err := desc.Validate(); err != nil {
			return schema.Descriptor{}, err
		}
		return desc, nil
	case hasSchema:
		return schema.LoadFile(strings.TrimSpace(f.schemaPath))
	default:
		return schema.Descriptor{}, errors.New("an output schema is required (--categories, --schema or --detect)")
	}
}

// readInputs returns one item per non-blank line. "-" or an empty path
// reads stdin. With withIDs each line is "id<TAB>text".
func readInputs(cmd *cobra.Command, path string, withIDs bool) ([]batch.Item, error) {
	var r io.Reader = cmd.InOrStdin()
	if path = strings.TrimSpace(path); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	var items []batch.Item
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !withIDs {
			items = append(items, batch.Item{Text: line})
			continue
		}
		id, text, ok := strings.Cut(line, "\t")
		id = strings.TrimSpace(id)
		if !ok || id == "" || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("input line %d: expected id<TAB>text", lineNo)
		}
		items = append(items, batch.Item{ID: id, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return items, nil
}

func itemTexts(items []batch.Item) []string {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}
	return texts
}
