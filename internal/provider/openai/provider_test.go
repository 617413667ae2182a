package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"texttools/internal/provider"
	"texttools/internal/schema"
	"texttools/internal/services/llm"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := llm.NewClient(
		llm.Config{APIKey: "test", APIBaseURL: server.URL, Model: "demo-model"},
		llm.WithRetryBackoff(0, 0),
		llm.WithSleeper(func(time.Duration) {}),
	)
	return New(client, Options{SystemPrompt: "You label support tickets.", CompletionWindow: "24h"})
}

func TestSubmitUploadsJSONLWithOffsetIDs(t *testing.T) {
	var (
		uploaded []map[string]any
		filename string
		metadata map[string]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		filename = header.Filename
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			var line map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				t.Fatalf("decode line: %v", err)
			}
			uploaded = append(uploaded, line)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-in"})
	})
	mux.HandleFunc("POST /batches", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InputFileID string            `json:"input_file_id"`
			Metadata    map[string]string `json:"metadata"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.InputFileID != "file-in" {
			t.Fatalf("unexpected input file %q", body.InputFileID)
		}
		metadata = body.Metadata
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "batch_7", "status": "validating"})
	})
	p := newTestProvider(t, mux)

	id, err := p.Submit(context.Background(), provider.Chunk{
		JobName: "support tickets",
		Offset:  10,
		Inputs:  []string{"refund please", "app crashes"},
		Schema:  schema.Categories("billing", "bug"),
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "batch_7" {
		t.Fatalf("unexpected batch id %q", id)
	}
	if filename != "support_tickets-10.jsonl" {
		t.Fatalf("unexpected filename %q", filename)
	}
	if len(uploaded) != 2 || uploaded[0]["custom_id"] != "10" || uploaded[1]["custom_id"] != "11" {
		t.Fatalf("unexpected uploaded lines %v", uploaded)
	}
	body := uploaded[0]["body"].(map[string]any)
	messages := body["messages"].([]any)
	system := messages[0].(map[string]any)["content"].(string)
	if !strings.HasPrefix(system, "You label support tickets.") || !strings.Contains(system, "billing, bug") {
		t.Fatalf("unexpected system prompt %q", system)
	}
	if metadata["job_name"] != "support tickets" || metadata["chunk_offset"] != "10" || metadata["chunk_size"] != "2" {
		t.Fatalf("unexpected metadata %v", metadata)
	}
}

func TestSubmitRejectsEmptyChunk(t *testing.T) {
	p := newTestProvider(t, http.NotFoundHandler())
	if _, err := p.Submit(context.Background(), provider.Chunk{JobName: "x"}); err == nil {
		t.Fatal("expected empty chunk to fail")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		remote string
		extra  map[string]any
		want   provider.State
		reason string
	}{
		{remote: "validating", want: provider.StateQueued},
		{remote: "in_progress", want: provider.StateInProgress},
		{remote: "finalizing", want: provider.StateInProgress},
		{remote: "cancelling", want: provider.StateInProgress},
		{remote: "completed", want: provider.StateCompleted},
		{
			remote: "failed",
			extra:  map[string]any{"errors": map[string]any{"data": []any{map[string]any{"code": "invalid_model", "message": "no such model"}}}},
			want:   provider.StateFailed,
			reason: "invalid_model: no such model",
		},
		{remote: "failed", want: provider.StateFailed, reason: "batch failed"},
		{remote: "cancelled", want: provider.StateFailed, reason: "batch cancelled"},
		{remote: "expired", want: provider.StateExpired, reason: "batch expired before completion"},
	}
	for _, tc := range cases {
		t.Run(tc.remote+tc.reason, func(t *testing.T) {
			p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				payload := map[string]any{"id": "b", "status": tc.remote}
				for k, v := range tc.extra {
					payload[k] = v
				}
				_ = json.NewEncoder(w).Encode(payload)
			}))
			status, err := p.Status(context.Background(), "b")
			if err != nil {
				t.Fatalf("Status returned error: %v", err)
			}
			if status.State != tc.want || status.Reason != tc.reason {
				t.Fatalf("Status = %+v, want %s %q", status, tc.want, tc.reason)
			}
		})
	}
}

func TestStatusUnknownBatch(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"No batch found"}}`)
	}))
	_, err := p.Status(context.Background(), "batch_missing")
	if !errors.Is(err, provider.ErrUnknownBatch) {
		t.Fatalf("expected ErrUnknownBatch, got %v", err)
	}
	var opErr *provider.OpError
	if !errors.As(err, &opErr) || opErr.BatchID != "batch_missing" || opErr.Op != "status" {
		t.Fatalf("expected OpError for batch_missing, got %v", err)
	}
}

func TestStatusRejectsUnrecognisedState(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "b", "status": "paused"})
	}))
	if _, err := p.Status(context.Background(), "b"); err == nil {
		t.Fatal("expected unknown remote status to fail")
	}
}

func resultLine(customID, content string) string {
	line, _ := json.Marshal(map[string]any{
		"custom_id": customID,
		"response": map[string]any{
			"status_code": 200,
			"body": map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
			},
		},
	})
	return string(line)
}

func TestFetchAlignsOutputsByCustomID(t *testing.T) {
	var out bytes.Buffer
	// Out of order, with a foreign id and a duplicate.
	out.WriteString(resultLine("102", `{"category":"bug"}`) + "\n")
	out.WriteString(resultLine("100", `{"category":"billing"}`) + "\n")
	out.WriteString(resultLine("7", `{"category":"bug"}`) + "\n")
	out.WriteString(resultLine("100", `{"category":"bug"}`) + "\n")
	errLine := `{"custom_id":"101","error":{"code":"server_error","message":"overloaded"}}`

	mux := http.NewServeMux()
	mux.HandleFunc("GET /batches/batch_2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             "batch_2",
			"status":         "completed",
			"output_file_id": "file-out",
			"error_file_id":  "file-err",
			"metadata":       map[string]string{"job_name": "j", "chunk_offset": "100", "chunk_size": "4"},
		})
	})
	mux.HandleFunc("GET /files/file-out/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(out.Bytes())
	})
	mux.HandleFunc("GET /files/file-err/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, errLine+"\n")
	})
	p := newTestProvider(t, mux)

	outputs, err := p.Fetch(context.Background(), "batch_2")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(outputs) != 4 {
		t.Fatalf("expected 4 outputs, got %d", len(outputs))
	}
	if outputs[0].Text != `{"category":"billing"}` || outputs[0].Error != "" {
		t.Fatalf("unexpected output 0: %+v", outputs[0])
	}
	if outputs[1].Error != "server_error: overloaded" {
		t.Fatalf("unexpected output 1: %+v", outputs[1])
	}
	if outputs[2].Text != `{"category":"bug"}` {
		t.Fatalf("unexpected output 2: %+v", outputs[2])
	}
	if outputs[3].Error != "no output returned for item" {
		t.Fatalf("unexpected output 3: %+v", outputs[3])
	}
}

func TestFetchRequiresCompletedBatch(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "b", "status": "in_progress"})
	}))
	if _, err := p.Fetch(context.Background(), "b"); err == nil {
		t.Fatal("expected fetch of running batch to fail")
	}
}

func TestFetchFallsBackToRequestCounts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /batches/b", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             "b",
			"status":         "completed",
			"output_file_id": "f",
			"metadata":       map[string]string{"chunk_offset": "0"},
			"request_counts": map[string]int{"total": 2, "completed": 2},
		})
	})
	mux.HandleFunc("GET /files/f/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, resultLine("1", "b")+"\n"+resultLine("0", "a")+"\n")
	})
	p := newTestProvider(t, mux)
	outputs, err := p.Fetch(context.Background(), "b")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(outputs) != 2 || outputs[0].Text != "a" || outputs[1].Text != "b" {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName(" a/b c "); got != "a_b_c" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
	if got := sanitizeName(""); got != "job" {
		t.Fatalf("unexpected fallback %q", got)
	}
}
