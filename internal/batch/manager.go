package batch

import (
	"context"
	"log/slog"

	"texttools/internal/jobstate"
	"texttools/internal/logging"
	"texttools/internal/provider"
	"texttools/internal/schema"
)

// Options configure a Manager.
type Options struct {
	// MaxChunkSize caps the inputs per provider batch.
	MaxChunkSize int
	// Concurrency bounds parallel provider calls inside one operation.
	Concurrency int
	// Handlers receive every fetched result set, in order.
	Handlers []Handler
	Logger   *slog.Logger
}

// Report is the outcome of FetchResults.
type Report struct {
	Results         ResultSet
	HandlerFailures []HandlerFailure
}

// Manager is the entry point for starting jobs, checking on them and
// fetching their results. It holds no job state of its own; every call
// reads the store.
type Manager struct {
	store      jobstate.Store
	submitter  *Submitter
	poller     *Poller
	collector  *Collector
	dispatcher *Dispatcher
	handlers   []Handler
}

// NewManager wires the batch components around a store and provider.
func NewManager(store jobstate.Store, prov provider.Provider, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	handlers := make([]Handler, len(opts.Handlers))
	copy(handlers, opts.Handlers)
	return &Manager{
		store:      store,
		submitter:  NewSubmitter(store, prov, opts.MaxChunkSize, logger),
		poller:     NewPoller(store, prov, opts.Concurrency, logger),
		collector:  NewCollector(store, prov, opts.Concurrency, logger),
		dispatcher: NewDispatcher(logger),
		handlers:   handlers,
	}
}

// Start submits a new job named name.
func (m *Manager) Start(ctx context.Context, inputs []string, name string, desc schema.Descriptor) error {
	return m.StartItems(ctx, Items(inputs), name, desc)
}

// StartItems submits a new job whose results are keyed by the items' ids.
func (m *Manager) StartItems(ctx context.Context, items []Item, name string, desc schema.Descriptor) error {
	_, err := m.submitter.Submit(ctx, items, name, desc)
	return err
}

// CheckStatus polls the provider once and returns the job's status.
func (m *Manager) CheckStatus(ctx context.Context, name string) (jobstate.Status, error) {
	return m.poller.Poll(ctx, name)
}

// FetchResults collects a completed job's results and passes them to the
// registered handlers. Handler failures are reported, not returned.
func (m *Manager) FetchResults(ctx context.Context, name string) (Report, error) {
	set, err := m.collector.Collect(ctx, name)
	if err != nil {
		return Report{}, err
	}
	failures := m.dispatcher.Dispatch(ctx, name, set, m.handlers)
	return Report{Results: set, HandlerFailures: failures}, nil
}

// Job returns the stored record for name.
func (m *Manager) Job(ctx context.Context, name string) (*jobstate.Record, error) {
	return m.store.Load(ctx, name)
}

// Jobs returns every stored record, oldest first.
func (m *Manager) Jobs(ctx context.Context) ([]*jobstate.Record, error) {
	return m.store.LoadAll(ctx)
}

// Discard removes a terminal job so its name can be reused.
func (m *Manager) Discard(ctx context.Context, name string) error {
	return m.store.Discard(ctx, name)
}
