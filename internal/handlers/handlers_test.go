package handlers_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"texttools/internal/batch"
	"texttools/internal/config"
	"texttools/internal/handlers"
	"texttools/internal/schema"
)

func sampleResults() batch.ResultSet {
	return batch.ResultSet{
		JobName: "reviews",
		Entries: []batch.Entry{
			{Index: 0, ID: "r-100", Outcome: schema.Success("positive", "positive")},
			{Index: 1, ID: "r-101", Outcome: schema.Outcome{Raw: "maybe", Error: "unknown category: \"maybe\""}},
			{Index: 2, ID: "r-102", Outcome: schema.Success(`{"score":1}`, map[string]any{"score": 1.0})},
		},
	}
}

func TestFromConfigDefaultsToNoOp(t *testing.T) {
	cfg := config.Default()
	list := handlers.FromConfig(&cfg, nil)
	if len(list) != 1 {
		t.Fatalf("expected a single handler, got %d", len(list))
	}
	if _, ok := list[0].(handlers.NoOp); !ok {
		t.Fatalf("expected NoOp, got %T", list[0])
	}
}

func TestFromConfigOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Handlers.OutputFile = filepath.Join(t.TempDir(), "out.csv")
	cfg.Handlers.LogResults = true
	cfg.Handlers.NtfyTopic = "https://ntfy.example/topic"
	list := handlers.FromConfig(&cfg, nil)
	if len(list) != 3 {
		t.Fatalf("expected 3 handlers, got %d", len(list))
	}
	names := make([]string, len(list))
	for i, h := range list {
		names[i] = h.(interface{ Name() string }).Name()
	}
	if strings.Join(names, ",") != "csv,log,ntfy" {
		t.Fatalf("unexpected handler order %v", names)
	}
}

func TestCSVFileAppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	h := handlers.NewCSVFile(path)
	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), "reviews", sampleResults()); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("expected header plus 6 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "job,index,id,status,value,error" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if strings.Join(rows[1], "|") != "reviews|0|r-100|parsed|positive|" {
		t.Fatalf("unexpected parsed row %v", rows[1])
	}
	if rows[2][2] != "r-101" || rows[2][3] != "failed" || !strings.Contains(rows[2][5], "unknown category") {
		t.Fatalf("unexpected failed row %v", rows[2])
	}
	if rows[3][4] != `{"score":1}` {
		t.Fatalf("unexpected structured value %q", rows[3][4])
	}
}

func TestLogHandlerWritesEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := handlers.NewLog(logger).Handle(context.Background(), "reviews", sampleResults()); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "\n") != 3 {
		t.Fatalf("expected 3 log lines, got %q", out)
	}
	if !strings.Contains(out, `"job_name":"reviews"`) || !strings.Contains(out, `"component":"handlers.log"`) {
		t.Fatalf("missing context fields in %q", out)
	}
	if !strings.Contains(out, `"raw":"maybe"`) {
		t.Fatalf("failed entry should include raw text: %q", out)
	}
}

func TestNtfyPostsSummary(t *testing.T) {
	var (
		gotTitle, gotTags, gotPriority string
		gotBody                        string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	h := handlers.NewNtfy(server.URL, server.Client())
	if err := h.Handle(context.Background(), "reviews", sampleResults()); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if gotTitle != "texttools - Job Complete (with failures)" || gotPriority != "high" {
		t.Fatalf("unexpected headers title=%q priority=%q", gotTitle, gotPriority)
	}
	if gotTags != "texttools,batch,completed,warning" {
		t.Fatalf("unexpected tags %q", gotTags)
	}
	if gotBody != "Job reviews finished: 2 parsed, 1 failed" {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestNtfyReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not allowed", http.StatusForbidden)
	}))
	defer server.Close()

	err := handlers.NewNtfy(server.URL, nil).Handle(context.Background(), "reviews", sampleResults())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
