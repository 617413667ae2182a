package jobstate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"texttools/internal/config"
	"texttools/internal/logging"
)

// Store is the durable mapping from job name to Record. Implementations are
// safe for use by multiple goroutines and multiple processes sharing the
// same backing location.
type Store interface {
	// Create persists a new record. It fails with ErrDuplicateJob when any
	// record with the same name exists; terminal records must be discarded
	// before their name can be reused.
	Create(ctx context.Context, rec *Record) error
	// Load returns the record for name or ErrNotFound.
	Load(ctx context.Context, name string) (*Record, error)
	// Save atomically replaces an existing record. The stored status must be
	// able to transition to rec.Status, otherwise ErrInvalidTransition.
	Save(ctx context.Context, rec *Record) error
	// LoadAll returns every record ordered by creation time.
	LoadAll(ctx context.Context) ([]*Record, error)
	// Discard removes a terminal record so its name may be reused.
	Discard(ctx context.Context, name string) error
	Close() error
}

// Open constructs the store selected by cfg.State.Backend under the
// configured state directory.
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	logger = logging.NewComponentLogger(logger, "jobstate")
	path := cfg.StatePath()
	switch cfg.State.Backend {
	case config.BackendSQLite:
		store, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("job store opened", logging.String("backend", cfg.State.Backend), logging.String("path", path))
		return store, nil
	case config.BackendFile, "":
		store, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("job store opened", logging.String("backend", config.BackendFile), logging.String("path", path))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

func sortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Name < records[j].Name
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
