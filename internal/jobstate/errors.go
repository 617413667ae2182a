package jobstate

import "errors"

var (
	// ErrDuplicateJob is returned by Create when a record with the name exists.
	ErrDuplicateJob = errors.New("duplicate job")
	// ErrNotFound is returned when no record exists for a job name.
	ErrNotFound = errors.New("job not found")
	// ErrCorruptState marks a backing store that exists but cannot be parsed.
	// It is never repaired automatically.
	ErrCorruptState = errors.New("corrupt job state")
	// ErrInvalidTransition is returned by Save when the stored status cannot
	// move to the requested one.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobActive is returned by Discard for a non-terminal job.
	ErrJobActive = errors.New("job is not in a terminal state")
)
