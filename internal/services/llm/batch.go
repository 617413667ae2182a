package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const (
	// ChatCompletionsEndpoint is the endpoint every batch request line targets.
	ChatCompletionsEndpoint = "/v1/chat/completions"
	// DefaultCompletionWindow is the completion window requested for new batches.
	DefaultCompletionWindow = "24h"

	batchFilePurpose = "batch"
)

// Remote batch lifecycle states reported by the Batches API.
const (
	BatchValidating = "validating"
	BatchInProgress = "in_progress"
	BatchFinalizing = "finalizing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
	BatchExpired    = "expired"
	BatchCancelling = "cancelling"
	BatchCancelled  = "cancelled"
)

// Batch is the subset of the remote batch object the orchestrator consumes.
type Batch struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Endpoint         string            `json:"endpoint"`
	InputFileID      string            `json:"input_file_id"`
	OutputFileID     string            `json:"output_file_id"`
	ErrorFileID      string            `json:"error_file_id"`
	CompletionWindow string            `json:"completion_window"`
	CreatedAt        int64             `json:"created_at"`
	Metadata         map[string]string `json:"metadata"`
	RequestCounts    struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
	Errors *struct {
		Data []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Line    *int   `json:"line"`
		} `json:"data"`
	} `json:"errors"`
}

// FailureReason summarises the batch-level errors, if any.
func (b Batch) FailureReason() string {
	if b.Errors == nil || len(b.Errors.Data) == 0 {
		return ""
	}
	parts := make([]string, 0, len(b.Errors.Data))
	for _, entry := range b.Errors.Data {
		msg := strings.TrimSpace(entry.Message)
		if entry.Code != "" {
			msg = entry.Code + ": " + msg
		}
		if entry.Line != nil {
			msg = fmt.Sprintf("line %d: %s", *entry.Line, msg)
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

type batchRequestLine struct {
	CustomID string                `json:"custom_id"`
	Method   string                `json:"method"`
	URL      string                `json:"url"`
	Body     chatCompletionRequest `json:"body"`
}

// BatchLine encodes one JSONL request line for the Batches API using the
// client's model and temperature.
func (c *Client) BatchLine(customID, systemPrompt, userPrompt string, responseFormat map[string]any) ([]byte, error) {
	if strings.TrimSpace(customID) == "" {
		return nil, errors.New("llm batch line: custom id required")
	}
	body, err := c.chatRequest(systemPrompt, userPrompt, responseFormat)
	if err != nil {
		return nil, fmt.Errorf("llm batch line %s: %w", customID, err)
	}
	encoded, err := json.Marshal(batchRequestLine{
		CustomID: customID,
		Method:   http.MethodPost,
		URL:      ChatCompletionsEndpoint,
		Body:     body,
	})
	if err != nil {
		return nil, fmt.Errorf("llm batch line %s: encode: %w", customID, err)
	}
	return encoded, nil
}

// UploadBatchFile uploads a JSONL request file and returns its file id.
// Uploads are not retried: a lost response would leave a duplicate file.
func (c *Client) UploadBatchFile(ctx context.Context, filename string, data []byte) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", errors.New("llm upload: api key required")
	}
	if len(data) == 0 {
		return "", errors.New("llm upload: empty file")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", batchFilePurpose); err != nil {
		return "", fmt.Errorf("llm upload: write purpose: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("llm upload: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("llm upload: write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("llm upload: close form: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.APIBaseURL, "files")
	if err != nil {
		return "", fmt.Errorf("llm upload: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("llm upload: new request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("llm upload: %w", err)
	}
	var file struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &file); err != nil {
		return "", fmt.Errorf("llm upload: decode response: %w", err)
	}
	if strings.TrimSpace(file.ID) == "" {
		return "", fmt.Errorf("llm upload: missing file id (response_snippet=%s)", summarizePayloadSnippet(string(body)))
	}
	return file.ID, nil
}

// CreateBatch starts a batch over a previously uploaded input file.
// Creation is not retried for the same reason as uploads.
func (c *Client) CreateBatch(ctx context.Context, inputFileID, completionWindow string, metadata map[string]string) (Batch, error) {
	if strings.TrimSpace(inputFileID) == "" {
		return Batch{}, errors.New("llm create batch: input file id required")
	}
	if strings.TrimSpace(completionWindow) == "" {
		completionWindow = DefaultCompletionWindow
	}
	encoded, err := json.Marshal(map[string]any{
		"input_file_id":     inputFileID,
		"endpoint":          ChatCompletionsEndpoint,
		"completion_window": completionWindow,
		"metadata":          metadata,
	})
	if err != nil {
		return Batch{}, fmt.Errorf("llm create batch: encode body: %w", err)
	}
	endpoint, err := url.JoinPath(c.cfg.APIBaseURL, "batches")
	if err != nil {
		return Batch{}, fmt.Errorf("llm create batch: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Batch{}, fmt.Errorf("llm create batch: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("llm create batch: %w", err)
	}
	return decodeBatch("llm create batch", body)
}

// RetrieveBatch fetches the current state of a batch.
func (c *Client) RetrieveBatch(ctx context.Context, batchID string) (Batch, error) {
	if strings.TrimSpace(batchID) == "" {
		return Batch{}, errors.New("llm retrieve batch: batch id required")
	}
	endpoint, err := url.JoinPath(c.cfg.APIBaseURL, "batches", batchID)
	if err != nil {
		return Batch{}, fmt.Errorf("llm retrieve batch: build url: %w", err)
	}
	body, err := c.sendWithRetry(ctx, "llm retrieve batch", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return Batch{}, err
	}
	return decodeBatch("llm retrieve batch", body)
}

// FileContent downloads the raw content of a file (batch output or error file).
func (c *Client) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, errors.New("llm file content: file id required")
	}
	endpoint, err := url.JoinPath(c.cfg.APIBaseURL, "files", fileID, "content")
	if err != nil {
		return nil, fmt.Errorf("llm file content: build url: %w", err)
	}
	return c.sendWithRetry(ctx, "llm file content", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
}

func decodeBatch(op string, body []byte) (Batch, error) {
	var batch Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return Batch{}, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if strings.TrimSpace(batch.ID) == "" {
		return Batch{}, fmt.Errorf("%s: missing batch id (response_snippet=%s)", op, summarizePayloadSnippet(string(body)))
	}
	return batch, nil
}

// BatchResult is one decoded line of a batch output or error file.
// Exactly one of Content and Error is set.
type BatchResult struct {
	CustomID   string
	StatusCode int
	Content    string
	Error      string
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseBatchResults decodes a JSONL output or error file. Lines that cannot
// be decoded are skipped and reported through the returned error; the
// results that did decode are always returned.
func ParseBatchResults(data []byte) ([]BatchResult, error) {
	var (
		results  []BatchResult
		problems []error
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw batchResultLine
		if err := json.Unmarshal(line, &raw); err != nil {
			problems = append(problems, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		if strings.TrimSpace(raw.CustomID) == "" {
			problems = append(problems, fmt.Errorf("line %d: missing custom_id", lineNo))
			continue
		}
		results = append(results, decodeResultLine(raw))
	}
	if err := scanner.Err(); err != nil {
		problems = append(problems, fmt.Errorf("scan: %w", err))
	}
	if len(problems) > 0 {
		return results, fmt.Errorf("llm batch results: %w", errors.Join(problems...))
	}
	return results, nil
}

func decodeResultLine(raw batchResultLine) BatchResult {
	result := BatchResult{CustomID: strings.TrimSpace(raw.CustomID)}
	if raw.Error != nil {
		result.Error = firstNonEmpty(strings.TrimSpace(raw.Error.Code+": "+raw.Error.Message), "request failed")
		return result
	}
	if raw.Response == nil {
		result.Error = "missing response"
		return result
	}
	result.StatusCode = raw.Response.StatusCode
	if raw.Response.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw.Response.Body, &apiErr)
		if apiErr.Error != nil && strings.TrimSpace(apiErr.Error.Message) != "" {
			result.Error = fmt.Sprintf("http %d: %s", raw.Response.StatusCode, strings.TrimSpace(apiErr.Error.Message))
		} else {
			result.Error = fmt.Sprintf("http %d", raw.Response.StatusCode)
		}
		return result
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(raw.Response.Body, &completion); err != nil {
		result.Error = fmt.Sprintf("decode response body: %v", err)
		return result
	}
	if completion.Error != nil {
		result.Error = "api error: " + strings.TrimSpace(completion.Error.Message)
		return result
	}
	content, finishReason := extractCompletionPayload(completion)
	if content == "" {
		if refusal := extractCompletionRefusal(completion); refusal != "" {
			result.Error = "refused: " + refusal
		} else {
			result.Error = fmt.Sprintf("empty content (finish_reason=%q)", finishReason)
		}
		return result
	}
	result.Content = content
	return result
}

// IsNotFound reports whether err is an HTTP 404 from the API.
func IsNotFound(err error) bool {
	var statusErr *httpStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
