package jobstate_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"texttools/internal/config"
	"texttools/internal/jobstate"
	"texttools/internal/schema"
)

type backend struct {
	name string
	file string
	open func(path string) (jobstate.Store, error)
}

var backends = []backend{
	{name: "file", file: "jobs.json", open: func(p string) (jobstate.Store, error) { return jobstate.OpenFile(p) }},
	{name: "sqlite", file: "jobs.db", open: func(p string) (jobstate.Store, error) { return jobstate.OpenSQLite(p) }},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend, path string, store jobstate.Store)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), b.file)
			store, err := b.open(path)
			if err != nil {
				t.Fatalf("open %s store: %v", b.name, err)
			}
			t.Cleanup(func() { _ = store.Close() })
			fn(t, b, path, store)
		})
	}
}

func submittedRecord(name string, sizes ...int) *jobstate.Record {
	rec := &jobstate.Record{Name: name, Status: jobstate.StatusSubmitted, Schema: schema.Categories("spam", "ham")}
	offset := 0
	for i, size := range sizes {
		rec.SubBatches = append(rec.SubBatches, jobstate.SubBatch{
			BatchID: fmt.Sprintf("%s-batch-%d", name, i),
			Offset:  offset,
			Size:    size,
		})
		offset += size
	}
	rec.InputCount = offset
	return rec
}

func TestStoreCreateAndLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, _ string, store jobstate.Store) {
		ctx := context.Background()
		rec := submittedRecord("reviews", 2, 1)
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
			t.Fatal("expected timestamps to be set")
		}
		loaded, err := store.Load(ctx, "reviews")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if loaded.Status != jobstate.StatusSubmitted || loaded.InputCount != 3 || len(loaded.SubBatches) != 2 {
			t.Fatalf("unexpected record %+v", loaded)
		}
		if loaded.SubBatches[1].Offset != 2 || loaded.SubBatches[1].BatchID != "reviews-batch-1" {
			t.Fatalf("sub-batch order not preserved: %+v", loaded.SubBatches)
		}
		if loaded.Schema.Kind != schema.KindCategories || len(loaded.Schema.Categories) != 2 {
			t.Fatalf("schema not preserved: %+v", loaded.Schema)
		}

		err = store.Create(ctx, submittedRecord("reviews", 1))
		if !errors.Is(err, jobstate.ErrDuplicateJob) {
			t.Fatalf("expected ErrDuplicateJob, got %v", err)
		}
		if _, err := store.Load(ctx, "missing"); !errors.Is(err, jobstate.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreSaveEnforcesTransitions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, _ string, store jobstate.Store) {
		ctx := context.Background()
		rec := submittedRecord("tickets", 4)
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		rec.Status = jobstate.StatusRunning
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save running returned error: %v", err)
		}

		regress := submittedRecord("tickets", 4)
		if err := store.Save(ctx, regress); !errors.Is(err, jobstate.ErrInvalidTransition) {
			t.Fatalf("expected regression to be rejected, got %v", err)
		}

		rec.Status = jobstate.StatusCompleted
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save completed returned error: %v", err)
		}
		again := submittedRecord("tickets", 4)
		again.Status = jobstate.StatusCompleted
		if err := store.Save(ctx, again); !errors.Is(err, jobstate.ErrInvalidTransition) {
			t.Fatalf("expected terminal record to be immutable, got %v", err)
		}

		loaded, err := store.Load(ctx, "tickets")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if loaded.Status != jobstate.StatusCompleted {
			t.Fatalf("expected completed, got %s", loaded.Status)
		}
		if !loaded.CreatedAt.Equal(rec.CreatedAt) {
			t.Fatalf("created_at changed: %v vs %v", loaded.CreatedAt, rec.CreatedAt)
		}

		if err := store.Save(ctx, submittedRecord("ghost", 1)); !errors.Is(err, jobstate.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
		}
	})
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, _ string, store jobstate.Store) {
		rec := submittedRecord("gappy", 2, 2)
		rec.SubBatches[1].Offset = 3
		if err := store.Create(context.Background(), rec); err == nil {
			t.Fatal("expected non-contiguous sub-batches to be rejected")
		}
		if _, err := store.Load(context.Background(), "gappy"); !errors.Is(err, jobstate.ErrNotFound) {
			t.Fatalf("invalid record must not be persisted, got %v", err)
		}
	})
}

func TestStoreDiscard(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, _ string, store jobstate.Store) {
		ctx := context.Background()
		rec := submittedRecord("batch", 1)
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := store.Discard(ctx, "batch"); !errors.Is(err, jobstate.ErrJobActive) {
			t.Fatalf("expected ErrJobActive, got %v", err)
		}

		rec.Status = jobstate.StatusFailed
		rec.Error = "provider rejected batch"
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed returned error: %v", err)
		}
		if err := store.Discard(ctx, "batch"); err != nil {
			t.Fatalf("Discard returned error: %v", err)
		}
		if err := store.Discard(ctx, "batch"); !errors.Is(err, jobstate.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after discard, got %v", err)
		}
		if err := store.Create(ctx, submittedRecord("batch", 2)); err != nil {
			t.Fatalf("expected name reuse after discard, got %v", err)
		}
	})
}

func TestStoreLoadAllAndReopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string, store jobstate.Store) {
		ctx := context.Background()
		for _, name := range []string{"first", "second", "third"} {
			if err := store.Create(ctx, submittedRecord(name, 1)); err != nil {
				t.Fatalf("Create %s returned error: %v", name, err)
			}
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}

		reopened, err := b.open(path)
		if err != nil {
			t.Fatalf("reopen store: %v", err)
		}
		defer reopened.Close()
		records, err := reopened.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll returned error: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected 3 records, got %d", len(records))
		}
		for i, name := range []string{"first", "second", "third"} {
			if records[i].Name != name {
				t.Fatalf("record %d = %s, want %s", i, records[i].Name, name)
			}
		}
	})
}

func TestStoreMissingAndEmptyFilesHoldNoJobs(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()
			missing, err := b.open(filepath.Join(dir, "missing", b.file))
			if err != nil {
				t.Fatalf("open missing store: %v", err)
			}
			defer missing.Close()
			records, err := missing.LoadAll(context.Background())
			if err != nil || len(records) != 0 {
				t.Fatalf("LoadAll = %v, %v", records, err)
			}

			emptyPath := filepath.Join(dir, b.file)
			if err := os.WriteFile(emptyPath, nil, 0o644); err != nil {
				t.Fatalf("write empty file: %v", err)
			}
			empty, err := b.open(emptyPath)
			if err != nil {
				t.Fatalf("open empty store: %v", err)
			}
			defer empty.Close()
			records, err = empty.LoadAll(context.Background())
			if err != nil || len(records) != 0 {
				t.Fatalf("LoadAll = %v, %v", records, err)
			}
		})
	}
}

func TestStoreCorruptFileIsFatal(t *testing.T) {
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte('a' + i%26)
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), b.file)
			if err := os.WriteFile(path, garbage, 0o644); err != nil {
				t.Fatalf("write corrupt file: %v", err)
			}
			if _, err := b.open(path); !errors.Is(err, jobstate.ErrCorruptState) {
				t.Fatalf("expected ErrCorruptState, got %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read back: %v", err)
			}
			if string(data) != string(garbage) {
				t.Fatal("corrupt state must not be rewritten")
			}
		})
	}
}

func TestSQLiteStoreCorruptRowIsFatalAtOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := jobstate.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"good", "bad"} {
		if err := store.Create(ctx, submittedRecord(name, 1)); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if _, err := db.Exec("UPDATE batch_jobs SET record_json = '{not json' WHERE name = 'bad'"); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close database: %v", err)
	}

	if _, err := jobstate.OpenSQLite(path); !errors.Is(err, jobstate.ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}

func TestFileStoreEmptyObjectHoldsNoJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err := jobstate.OpenFile(path)
	if err != nil {
		t.Fatalf("open empty object: %v", err)
	}
	defer store.Close()
	records, err := store.LoadAll(context.Background())
	if err != nil || len(records) != 0 {
		t.Fatalf("LoadAll = %v, %v", records, err)
	}
	if err := store.Create(context.Background(), submittedRecord("first", 1)); err != nil {
		t.Fatalf("create after empty object: %v", err)
	}

	unversioned := filepath.Join(t.TempDir(), "jobs.json")
	body := `{"jobs":{"a":{"name":"a","status":"submitted","input_count":1,"sub_batches":[{"batch_id":"x","offset":0,"size":1}]}}}`
	if err := os.WriteFile(unversioned, []byte(body), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := jobstate.OpenFile(unversioned); !errors.Is(err, jobstate.ErrCorruptState) {
		t.Fatalf("expected unversioned jobs to be rejected, got %v", err)
	}
}

func TestFileStoreRejectsMismatchedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	body := `{"version":1,"jobs":{"a":{"name":"b","status":"submitted","input_count":1,"sub_batches":[{"batch_id":"x","offset":0,"size":1}]}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := jobstate.OpenFile(path); !errors.Is(err, jobstate.ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}

func TestStoreConcurrentWritersAcrossHandles(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), b.file)
			stores := make([]jobstate.Store, 2)
			for i := range stores {
				store, err := b.open(path)
				if err != nil {
					t.Fatalf("open store %d: %v", i, err)
				}
				defer store.Close()
				stores[i] = store
			}

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- stores[i%2].Create(context.Background(), submittedRecord(fmt.Sprintf("job-%02d", i), 1))
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("concurrent Create returned error: %v", err)
				}
			}
			records, err := stores[0].LoadAll(context.Background())
			if err != nil {
				t.Fatalf("LoadAll returned error: %v", err)
			}
			if len(records) != 20 {
				t.Fatalf("expected 20 records, got %d", len(records))
			}
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	for _, tc := range []struct {
		backend string
		file    string
	}{
		{config.BackendFile, "jobs.json"},
		{config.BackendSQLite, "jobs.db"},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.StateDir = t.TempDir()
			cfg.Paths.LogDir = t.TempDir()
			cfg.State.Backend = tc.backend
			store, err := jobstate.Open(&cfg, nil)
			if err != nil {
				t.Fatalf("Open returned error: %v", err)
			}
			defer store.Close()
			if err := store.Create(context.Background(), submittedRecord("x", 1)); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if _, err := os.Stat(filepath.Join(cfg.Paths.StateDir, tc.file)); err != nil {
				t.Fatalf("expected %s to exist: %v", tc.file, err)
			}
		})
	}
}
