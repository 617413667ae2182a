// Package provider defines the capability the batch orchestrator needs from
// an LLM service: submit a chunk, query its state, fetch its outputs.
package provider

import (
	"context"
	"errors"
	"fmt"

	"texttools/internal/schema"
)

// State is the lifecycle state of one provider-level submission.
type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
)

// ErrUnknownBatch is returned when the provider has no record of a batch id.
var ErrUnknownBatch = errors.New("unknown provider batch")

// Chunk is a contiguous slice of a job's inputs submitted as one batch.
type Chunk struct {
	JobName string
	// Offset is the position of Inputs[0] in the original input sequence.
	Offset int
	Inputs []string
	Schema schema.Descriptor
}

// BatchStatus reports a submission's state and, for failures, why.
type BatchStatus struct {
	State  State
	Reason string
}

// Output is the raw provider result for one submitted input. Error is set
// when the provider itself could not produce a result for the item.
type Output struct {
	Text  string
	Error string
}

// Provider submits chunks and reports on them. Fetch returns outputs
// aligned to the submitted chunk: Outputs[i] belongs to Inputs[i].
type Provider interface {
	Submit(ctx context.Context, chunk Chunk) (string, error)
	Status(ctx context.Context, batchID string) (BatchStatus, error)
	Fetch(ctx context.Context, batchID string) ([]Output, error)
}

// OpError attributes a provider failure to the operation and batch it
// occurred on.
type OpError struct {
	Op      string
	BatchID string
	Err     error
}

func (e *OpError) Error() string {
	if e.BatchID == "" {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s %s: %v", e.Op, e.BatchID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
