package jobstate

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	sqliteCorruptCode       = 11
	sqliteNotADBCode        = 26
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrSchemaMismatch indicates the database was created by an incompatible version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SQLiteStore persists records in a SQLite database, one row per job.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens or initializes the database at path. A database with
// any undecodable row fails with ErrCorruptState.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, classifySQLiteError(fmt.Errorf("apply pragma %q: %w", pragma, err), path)
		}
	}

	store := &SQLiteStore{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, classifySQLiteError(err, path)
	}
	// Every row must decode, matching the file backend's open check.
	if _, err := store.LoadAll(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("create: record is nil")
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO batch_jobs (name, status, record_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(name) DO NOTHING`,
		rec.Name, string(rec.Status), string(payload),
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", rec.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("create %s: %w", rec.Name, ErrDuplicateJob)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (*Record, error) {
	ctx = ensureContext(ctx)
	var payload string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT record_json FROM batch_jobs WHERE name = ?", name).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("load %s: %w", name, err), s.path)
	}
	return s.decode(name, payload)
}

// Save updates the row only while its stored status is one of the
// predecessors of rec.Status, so concurrent writers cannot regress a job.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("save: record is nil")
	}
	current, err := s.Load(ctx, rec.Name)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, rec.Status) {
		return fmt.Errorf("save %s: %s -> %s: %w", rec.Name, current.Status, rec.Status, ErrInvalidTransition)
	}
	rec.CreatedAt = current.CreatedAt
	rec.UpdatedAt = s.now()
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	allowed := predecessors(rec.Status)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(allowed)), ",")
	args := []any{string(rec.Status), string(payload), rec.UpdatedAt.Format(time.RFC3339Nano), rec.Name}
	for _, status := range allowed {
		args = append(args, string(status))
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE batch_jobs SET status = ?, record_json = ?, updated_at = ?
         WHERE name = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", rec.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		latest, loadErr := s.Load(ctx, rec.Name)
		if loadErr != nil {
			return loadErr
		}
		return fmt.Errorf("save %s: %s -> %s: %w", rec.Name, latest.Status, rec.Status, ErrInvalidTransition)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*Record, error) {
	ctx = ensureContext(ctx)
	var records []*Record
	err := retryOnBusy(ctx, func() error {
		records = records[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT name, record_json FROM batch_jobs ORDER BY created_at, name")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, payload string
			if err := rows.Scan(&name, &payload); err != nil {
				return err
			}
			rec, err := s.decode(name, payload)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, ErrCorruptState) {
			return nil, err
		}
		return nil, classifySQLiteError(fmt.Errorf("list jobs: %w", err), s.path)
	}
	sortRecords(records)
	return records, nil
}

func (s *SQLiteStore) Discard(ctx context.Context, name string) error {
	terminal := []any{name, string(StatusCompleted), string(StatusFailed), string(StatusExpired)}
	res, err := s.execWithRetry(ctx, "DELETE FROM batch_jobs WHERE name = ? AND status IN (?, ?, ?)", terminal...)
	if err != nil {
		return fmt.Errorf("discard job %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		current, loadErr := s.Load(ctx, name)
		if loadErr != nil {
			return fmt.Errorf("discard: %w", loadErr)
		}
		return fmt.Errorf("discard %s (%s): %w", name, current.Status, ErrJobActive)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) decode(name, payload string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", ErrCorruptState, name, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, classifySQLiteError(err, s.path)
	}
	return res, nil
}

func sqliteCode(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// Extended result codes carry the primary code in the low byte.
		return coder.Code() & 0xff
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err) == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteCorrupt(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) {
	case sqliteCorruptCode, sqliteNotADBCode:
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

func classifySQLiteError(err error, path string) error {
	if isSQLiteCorrupt(err) {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}
	return err
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
