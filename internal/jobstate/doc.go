// Package jobstate persists batch job records and enforces their status
// state machine.
//
// A Record maps a user-chosen job name to the provider sub-batches that
// cover its input, in offset order. Statuses only move forward:
//
//	pending -> submitted -> running -> completed | failed | expired
//
// with submitted allowed to jump straight to any terminal status. Terminal
// records are immutable and can only be removed with Discard, after which
// the name may be reused.
//
// Two backends implement Store: FileStore (a single JSON document guarded
// by an advisory file lock and replaced atomically) and SQLiteStore. A
// missing file, an empty file or a bare {} holds no jobs. A backing store
// that exists but cannot be parsed, including a single undecodable SQLite
// row, yields ErrCorruptState at open and is never rewritten.
package jobstate
