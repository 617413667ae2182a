package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"texttools/internal/provider"
)

// FakeBatch is the in-memory state of one submitted chunk.
type FakeBatch struct {
	ID      string
	Chunk   provider.Chunk
	Status  provider.BatchStatus
	Outputs []provider.Output
}

// FakeProvider is an in-memory provider.Provider whose batches are driven
// explicitly by tests.
type FakeProvider struct {
	mu         sync.Mutex
	batches    map[string]*FakeBatch
	order      []string
	submitErrs map[int]error
	emptyIDs   map[int]bool
	statusErr  error
	fetchErr   error

	submitCalls int
	statusCalls int
	fetchCalls  int
}

var _ provider.Provider = (*FakeProvider)(nil)

// NewFakeProvider returns an empty FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		batches:    make(map[string]*FakeBatch),
		submitErrs: make(map[int]error),
		emptyIDs:   make(map[int]bool),
	}
}

func (f *FakeProvider) Submit(ctx context.Context, chunk provider.Chunk) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if err, ok := f.submitErrs[chunk.Offset]; ok {
		return "", err
	}
	if f.emptyIDs[chunk.Offset] {
		return "", nil
	}
	id := fmt.Sprintf("fake-batch-%d", len(f.order)+1)
	inputs := make([]string, len(chunk.Inputs))
	copy(inputs, chunk.Inputs)
	chunk.Inputs = inputs
	f.batches[id] = &FakeBatch{ID: id, Chunk: chunk, Status: provider.BatchStatus{State: provider.StateQueued}}
	f.order = append(f.order, id)
	return id, nil
}

func (f *FakeProvider) Status(ctx context.Context, batchID string) (provider.BatchStatus, error) {
	if err := ctx.Err(); err != nil {
		return provider.BatchStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return provider.BatchStatus{}, f.statusErr
	}
	batch, ok := f.batches[batchID]
	if !ok {
		return provider.BatchStatus{}, &provider.OpError{Op: "status", BatchID: batchID, Err: provider.ErrUnknownBatch}
	}
	return batch.Status, nil
}

func (f *FakeProvider) Fetch(ctx context.Context, batchID string) ([]provider.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	batch, ok := f.batches[batchID]
	if !ok {
		return nil, &provider.OpError{Op: "fetch", BatchID: batchID, Err: provider.ErrUnknownBatch}
	}
	if batch.Status.State != provider.StateCompleted {
		return nil, &provider.OpError{Op: "fetch", BatchID: batchID, Err: errors.New("batch not completed")}
	}
	out := make([]provider.Output, len(batch.Outputs))
	copy(out, batch.Outputs)
	return out, nil
}

// FailSubmitAt makes the submission of the chunk starting at offset fail.
func (f *FakeProvider) FailSubmitAt(offset int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErrs[offset] = err
}

// ReturnEmptyIDAt makes Submit report success without a batch id for the
// chunk starting at offset.
func (f *FakeProvider) ReturnEmptyIDAt(offset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptyIDs[offset] = true
}

// SetStatusError makes every Status call fail with err (nil clears it).
func (f *FakeProvider) SetStatusError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

// SetFetchError makes every Fetch call fail with err (nil clears it).
func (f *FakeProvider) SetFetchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// SetState moves one batch to state with an optional reason.
func (f *FakeProvider) SetState(batchID string, state provider.State, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[batchID]; ok {
		batch.Status = provider.BatchStatus{State: state, Reason: reason}
	}
}

// SetAllStates moves every batch to state.
func (f *FakeProvider) SetAllStates(state provider.State) {
	for _, id := range f.BatchIDs() {
		f.SetState(id, state, "")
	}
}

// Complete marks a batch completed with one output per input produced by respond.
func (f *FakeProvider) Complete(batchID string, respond func(input string) provider.Output) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.batches[batchID]
	if !ok {
		return
	}
	batch.Outputs = make([]provider.Output, len(batch.Chunk.Inputs))
	for i, input := range batch.Chunk.Inputs {
		batch.Outputs[i] = respond(input)
	}
	batch.Status = provider.BatchStatus{State: provider.StateCompleted}
}

// CompleteAll completes every batch using respond.
func (f *FakeProvider) CompleteAll(respond func(input string) provider.Output) {
	for _, id := range f.BatchIDs() {
		f.Complete(id, respond)
	}
}

// SetOutputs replaces a batch's outputs verbatim and marks it completed.
func (f *FakeProvider) SetOutputs(batchID string, outputs []provider.Output) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[batchID]; ok {
		batch.Outputs = outputs
		batch.Status = provider.BatchStatus{State: provider.StateCompleted}
	}
}

// BatchIDs returns batch ids in submission order.
func (f *FakeProvider) BatchIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.order))
	copy(ids, f.order)
	return ids
}

// Batch returns a copy of a submitted batch.
func (f *FakeProvider) Batch(batchID string) (FakeBatch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.batches[batchID]
	if !ok {
		return FakeBatch{}, false
	}
	return *batch, true
}

// Calls returns the number of Submit, Status and Fetch calls made so far.
func (f *FakeProvider) Calls() (submit, status, fetch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.statusCalls, f.fetchCalls
}

// Echo answers each input with the input itself.
func Echo(input string) provider.Output {
	return provider.Output{Text: input}
}
