// Package openai adapts the OpenAI-compatible Batches API to provider.Provider.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"texttools/internal/logging"
	"texttools/internal/provider"
	"texttools/internal/services/llm"
)

const (
	metaJobName   = "job_name"
	metaOffset    = "chunk_offset"
	metaChunkSize = "chunk_size"
)

// Options tune how chunks are submitted.
type Options struct {
	// SystemPrompt is prepended to the schema's answer-format instructions.
	SystemPrompt     string
	CompletionWindow string
	Logger           *slog.Logger
}

// Provider submits chunks as Batches API jobs.
type Provider struct {
	client *llm.Client
	opts   Options
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New constructs a Provider around an llm client.
func New(client *llm.Client, opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{
		client: client,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "provider.openai"),
	}
}

// Submit encodes the chunk as JSONL, uploads it and creates a batch. Each
// request line's custom_id is the item's index in the original input.
func (p *Provider) Submit(ctx context.Context, chunk provider.Chunk) (string, error) {
	if len(chunk.Inputs) == 0 {
		return "", &provider.OpError{Op: "submit", Err: errors.New("empty chunk")}
	}
	system := chunk.Schema.Instructions(p.opts.SystemPrompt)
	format := chunk.Schema.ResponseFormat()

	var buf bytes.Buffer
	for i, input := range chunk.Inputs {
		line, err := p.client.BatchLine(strconv.Itoa(chunk.Offset+i), system, input, format)
		if err != nil {
			return "", &provider.OpError{Op: "submit", Err: err}
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	filename := fmt.Sprintf("%s-%d.jsonl", sanitizeName(chunk.JobName), chunk.Offset)
	fileID, err := p.client.UploadBatchFile(ctx, filename, buf.Bytes())
	if err != nil {
		return "", &provider.OpError{Op: "submit", Err: err}
	}
	batch, err := p.client.CreateBatch(ctx, fileID, p.opts.CompletionWindow, map[string]string{
		metaJobName:   chunk.JobName,
		metaOffset:    strconv.Itoa(chunk.Offset),
		metaChunkSize: strconv.Itoa(len(chunk.Inputs)),
	})
	if err != nil {
		return "", &provider.OpError{Op: "submit", Err: err}
	}
	p.logger.Debug("batch created",
		logging.JobName(chunk.JobName),
		logging.BatchID(batch.ID),
		logging.String("input_file_id", fileID),
		logging.Int("chunk_offset", chunk.Offset),
		logging.Int("chunk_size", len(chunk.Inputs)),
	)
	return batch.ID, nil
}

// Status maps the remote batch lifecycle onto provider states.
func (p *Provider) Status(ctx context.Context, batchID string) (provider.BatchStatus, error) {
	batch, err := p.retrieve(ctx, "status", batchID)
	if err != nil {
		return provider.BatchStatus{}, err
	}
	status, err := mapStatus(batch)
	if err != nil {
		return provider.BatchStatus{}, &provider.OpError{Op: "status", BatchID: batchID, Err: err}
	}
	return status, nil
}

func mapStatus(batch llm.Batch) (provider.BatchStatus, error) {
	switch batch.Status {
	case llm.BatchValidating:
		return provider.BatchStatus{State: provider.StateQueued}, nil
	case llm.BatchInProgress, llm.BatchFinalizing, llm.BatchCancelling:
		return provider.BatchStatus{State: provider.StateInProgress}, nil
	case llm.BatchCompleted:
		return provider.BatchStatus{State: provider.StateCompleted}, nil
	case llm.BatchFailed:
		reason := batch.FailureReason()
		if reason == "" {
			reason = "batch failed"
		}
		return provider.BatchStatus{State: provider.StateFailed, Reason: reason}, nil
	case llm.BatchCancelled:
		return provider.BatchStatus{State: provider.StateFailed, Reason: "batch cancelled"}, nil
	case llm.BatchExpired:
		return provider.BatchStatus{State: provider.StateExpired, Reason: "batch expired before completion"}, nil
	default:
		return provider.BatchStatus{}, fmt.Errorf("unrecognised batch status %q", batch.Status)
	}
}

// Fetch downloads the output and error files of a completed batch and
// aligns their lines to the submitted chunk.
func (p *Provider) Fetch(ctx context.Context, batchID string) ([]provider.Output, error) {
	batch, err := p.retrieve(ctx, "fetch", batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != llm.BatchCompleted {
		return nil, &provider.OpError{Op: "fetch", BatchID: batchID, Err: fmt.Errorf("batch is %s, not completed", batch.Status)}
	}
	offset, size, err := chunkBounds(batch)
	if err != nil {
		return nil, &provider.OpError{Op: "fetch", BatchID: batchID, Err: err}
	}

	outputs := make([]provider.Output, size)
	filled := make([]bool, size)
	for _, fileID := range []string{batch.OutputFileID, batch.ErrorFileID} {
		if strings.TrimSpace(fileID) == "" {
			continue
		}
		data, err := p.client.FileContent(ctx, fileID)
		if err != nil {
			return nil, &provider.OpError{Op: "fetch", BatchID: batchID, Err: err}
		}
		results, parseErr := llm.ParseBatchResults(data)
		if parseErr != nil {
			p.logger.Warn("batch result file has unreadable lines",
				logging.BatchID(batchID),
				logging.String("file_id", fileID),
				logging.Error(parseErr),
				logging.String(logging.FieldEventType, "provider_result_parse"),
				logging.Hint("affected items are reported as missing output"),
			)
		}
		for _, result := range results {
			index, err := strconv.Atoi(result.CustomID)
			pos := index - offset
			if err != nil || pos < 0 || pos >= size {
				p.logger.Warn("ignoring batch result with foreign custom_id",
					logging.BatchID(batchID),
					logging.String("custom_id", result.CustomID),
				)
				continue
			}
			if filled[pos] {
				continue
			}
			outputs[pos] = provider.Output{Text: result.Content, Error: result.Error}
			filled[pos] = true
		}
	}
	for i := range outputs {
		if !filled[i] {
			outputs[i] = provider.Output{Error: "no output returned for item"}
		}
	}
	return outputs, nil
}

func (p *Provider) retrieve(ctx context.Context, op, batchID string) (llm.Batch, error) {
	batch, err := p.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		if llm.IsNotFound(err) {
			err = fmt.Errorf("%w: %v", provider.ErrUnknownBatch, err)
		}
		return llm.Batch{}, &provider.OpError{Op: op, BatchID: batchID, Err: err}
	}
	return batch, nil
}

func chunkBounds(batch llm.Batch) (int, int, error) {
	offset, err := strconv.Atoi(batch.Metadata[metaOffset])
	if err != nil {
		return 0, 0, fmt.Errorf("batch metadata %s: %w", metaOffset, err)
	}
	size, err := strconv.Atoi(batch.Metadata[metaChunkSize])
	if err != nil {
		// Batches created without metadata still report their request count.
		size = batch.RequestCounts.Total
	}
	if size <= 0 {
		return 0, 0, errors.New("batch metadata: chunk size unknown")
	}
	return offset, size, nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "job"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
