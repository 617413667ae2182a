package testsupport

import (
	"testing"

	"texttools/internal/config"
	"texttools/internal/jobstate"
)

// MustOpenStore opens the configured jobstate.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) jobstate.Store {
	t.Helper()

	store, err := jobstate.Open(cfg, nil)
	if err != nil {
		t.Fatalf("jobstate.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
