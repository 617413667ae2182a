package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"texttools/internal/batch"
)

var csvHeader = []string{"job", "index", "id", "status", "value", "error"}

// CSVFile appends one row per entry to a CSV file, writing a header when
// the file is new.
type CSVFile struct {
	path string
	mu   sync.Mutex
}

// NewCSVFile constructs a CSVFile handler.
func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

func (*CSVFile) Name() string { return "csv" }

func (h *CSVFile) Handle(_ context.Context, jobName string, results batch.ResultSet) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	info, statErr := os.Stat(h.path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, entry := range results.Entries {
		row := []string{jobName, strconv.Itoa(entry.Index), entry.ID, "failed", "", entry.Error}
		if entry.Parsed {
			value, err := formatValue(entry.Value)
			if err != nil {
				return fmt.Errorf("encode entry %d: %w", entry.Index, err)
			}
			row[3], row[4], row[5] = "parsed", value, ""
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write entry %d: %w", entry.Index, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush output file: %w", err)
	}
	return f.Sync()
}

func formatValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
