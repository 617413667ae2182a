package jobstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	fileFormatVersion = 1
	lockRetryDelay    = 25 * time.Millisecond
)

type fileDocument struct {
	Version int                `json:"version"`
	Jobs    map[string]*Record `json:"jobs"`
}

// FileStore keeps all records in one JSON document. Every mutation is a
// read-modify-write under an exclusive advisory lock, and the document is
// replaced by writing a temporary file and renaming it into place.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
	now  func() time.Time
}

// OpenFile opens the JSON store at path. A missing or empty file holds no
// jobs; a present but unreadable file fails with ErrCorruptState.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	store := &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := store.withLock(context.Background(), false, func() error {
		_, err := store.read()
		return err
	}); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the location of the JSON document.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("create: record is nil")
	}
	return s.withLock(ctx, true, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		if _, exists := doc.Jobs[rec.Name]; exists {
			return fmt.Errorf("create %s: %w", rec.Name, ErrDuplicateJob)
		}
		now := s.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		doc.Jobs[rec.Name] = rec
		return s.write(doc)
	})
}

func (s *FileStore) Load(ctx context.Context, name string) (*Record, error) {
	var rec *Record
	err := s.withLock(ctx, false, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		found, ok := doc.Jobs[name]
		if !ok {
			return fmt.Errorf("load %s: %w", name, ErrNotFound)
		}
		rec = found
		return nil
	})
	return rec, err
}

func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("save: record is nil")
	}
	return s.withLock(ctx, true, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		current, ok := doc.Jobs[rec.Name]
		if !ok {
			return fmt.Errorf("save %s: %w", rec.Name, ErrNotFound)
		}
		if !CanTransition(current.Status, rec.Status) {
			return fmt.Errorf("save %s: %s -> %s: %w", rec.Name, current.Status, rec.Status, ErrInvalidTransition)
		}
		rec.CreatedAt = current.CreatedAt
		rec.UpdatedAt = s.now()
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		doc.Jobs[rec.Name] = rec
		return s.write(doc)
	})
}

func (s *FileStore) LoadAll(ctx context.Context) ([]*Record, error) {
	var records []*Record
	err := s.withLock(ctx, false, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		records = make([]*Record, 0, len(doc.Jobs))
		for _, rec := range doc.Jobs {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *FileStore) Discard(ctx context.Context, name string) error {
	return s.withLock(ctx, true, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		current, ok := doc.Jobs[name]
		if !ok {
			return fmt.Errorf("discard %s: %w", name, ErrNotFound)
		}
		if !current.Status.IsTerminal() {
			return fmt.Errorf("discard %s (%s): %w", name, current.Status, ErrJobActive)
		}
		delete(doc.Jobs, name)
		return s.write(doc)
	})
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	ctx = ensureContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("lock job state: %w", err)
	}
	if !locked {
		return errors.New("lock job state: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileDocument{Version: fileFormatVersion, Jobs: map[string]*Record{}}, nil
		}
		return nil, fmt.Errorf("read job state: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &fileDocument{Version: fileFormatVersion, Jobs: map[string]*Record{}}, nil
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	if doc.Version == 0 && len(doc.Jobs) == 0 {
		// An empty object holds no jobs.
		doc.Version = fileFormatVersion
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorruptState, s.path, doc.Version)
	}
	if doc.Jobs == nil {
		doc.Jobs = map[string]*Record{}
	}
	for name, rec := range doc.Jobs {
		if rec == nil || rec.Name != name {
			return nil, fmt.Errorf("%w: %s: entry %q does not match its record", ErrCorruptState, s.path, name)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
		}
	}
	return &doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
