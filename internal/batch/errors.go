package batch

import (
	"errors"
	"fmt"

	"texttools/internal/jobstate"
)

var (
	// ErrEmptyInput is returned by Start when no inputs are supplied.
	ErrEmptyInput = errors.New("no inputs supplied")
	// ErrNotCompleted is returned when results are requested before a job completes.
	ErrNotCompleted = errors.New("job not completed")
	// ErrInvalidItemID is returned by Start when item keys are partial or repeated.
	ErrInvalidItemID = errors.New("invalid item id")
	// ErrJobFailed matches every *JobFailedError.
	ErrJobFailed = errors.New("job failed")

	ErrDuplicateJob = jobstate.ErrDuplicateJob
	ErrNotFound     = jobstate.ErrNotFound
)

// JobFailedError reports a job that reached FAILED or EXPIRED together
// with the reason recorded when it did.
type JobFailedError struct {
	Name   string
	Status jobstate.Status
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s %s", e.Name, e.Status)
	}
	return fmt.Sprintf("job %s %s: %s", e.Name, e.Status, e.Reason)
}

// Is reports whether target is ErrJobFailed.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}
