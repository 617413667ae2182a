package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"texttools/internal/batch"
	"texttools/internal/jobstate"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var titleCaser = cases.Title(language.English)

func statusLabel(status jobstate.Status) string {
	return titleCaser.String(strings.ReplaceAll(string(status), "_", " "))
}

type jobRecordView struct {
	Name       string              `json:"name"`
	Status     jobstate.Status     `json:"status"`
	InputCount int                 `json:"input_count"`
	Keyed      bool                `json:"keyed,omitempty"`
	SubBatches []jobstate.SubBatch `json:"sub_batches"`
	Schema     string              `json:"schema"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func jobView(rec *jobstate.Record) jobRecordView {
	return jobRecordView{
		Name:       rec.Name,
		Status:     rec.Status,
		InputCount: rec.InputCount,
		Keyed:      len(rec.ItemIDs) > 0,
		SubBatches: rec.SubBatches,
		Schema:     rec.Schema.SchemaName(),
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func renderJobs(out io.Writer, records []*jobstate.Record) {
	if !isTerminal(out) {
		for _, rec := range records {
			fmt.Fprintf(out, "%s\t%s\t%d\t%d\t%s\n",
				rec.Name, rec.Status, rec.InputCount, len(rec.SubBatches), rec.UpdatedAt.Format(time.RFC3339))
		}
		return
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Name,
			statusLabel(rec.Status),
			strconv.Itoa(rec.InputCount),
			strconv.Itoa(len(rec.SubBatches)),
			rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
			rec.Error,
		})
	}
	fmt.Fprintln(out, renderTable(jobColumns, rows))
}

func renderResults(out io.Writer, results batch.ResultSet) {
	if !isTerminal(out) {
		for _, entry := range results.Entries {
			if entry.Parsed {
				fmt.Fprintf(out, "%s\tparsed\t%s\n", entry.Key(), valueText(entry.Value))
				continue
			}
			fmt.Fprintf(out, "%s\tfailed\t%s\n", entry.Key(), entry.Error)
		}
		return
	}
	rows := make([][]string, 0, results.Len())
	for _, entry := range results.Entries {
		row := []string{entry.Key(), "parsed", valueText(entry.Value)}
		if !entry.Parsed {
			row = []string{entry.Key(), "failed", entry.Error}
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(out, renderTable(resultColumns, rows))
	fmt.Fprintf(out, "%d parsed, %d failed\n", len(results.Parsed()), len(results.Failed()))
}

func valueText(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
