package jobstate

import (
	"fmt"
	"strings"
	"time"

	"texttools/internal/schema"
)

// Status represents the lifecycle of a batch job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

var allStatuses = []Status{
	StatusPending,
	StatusSubmitted,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusExpired,
}

// transitions lists every permitted forward edge. Terminal states have none.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusRunning, StatusCompleted, StatusFailed, StatusExpired},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusExpired},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status, case-insensitively.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allStatuses {
		if status == known {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// CanTransition reports whether a record may move from one status to
// another. Rewriting a non-terminal status with itself is allowed so
// metadata can be refreshed; terminal records are immutable.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// predecessors lists the statuses a record may hold before being saved as to.
func predecessors(to Status) []Status {
	var out []Status
	for _, from := range allStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// SubBatch maps one provider batch back to its slice of the original input.
type SubBatch struct {
	BatchID string `json:"batch_id"`
	Offset  int    `json:"offset"`
	Size    int    `json:"size"`
}

// Record is the persisted state of one batch job.
type Record struct {
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	SubBatches []SubBatch        `json:"sub_batches"`
	InputCount int               `json:"input_count"`
	// ItemIDs holds caller-supplied item keys, one per input, when given.
	ItemIDs    []string          `json:"item_ids,omitempty"`
	Schema     schema.Descriptor `json:"schema"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Submitted returns the number of inputs covered by recorded sub-batches.
func (r *Record) Submitted() int {
	total := 0
	for _, sb := range r.SubBatches {
		total += sb.Size
	}
	return total
}

// Validate checks the structural invariants every persisted record holds.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("job name required")
	}
	if parsed, ok := ParseStatus(string(r.Status)); !ok || parsed != r.Status {
		return fmt.Errorf("job %s: unknown status %q", r.Name, r.Status)
	}
	next := 0
	for i, sb := range r.SubBatches {
		if strings.TrimSpace(sb.BatchID) == "" {
			return fmt.Errorf("job %s: sub-batch %d has no batch id", r.Name, i)
		}
		if sb.Size <= 0 {
			return fmt.Errorf("job %s: sub-batch %d has size %d", r.Name, i, sb.Size)
		}
		if sb.Offset != next {
			return fmt.Errorf("job %s: sub-batch %d starts at %d, expected %d", r.Name, i, sb.Offset, next)
		}
		next += sb.Size
	}
	if next > r.InputCount {
		return fmt.Errorf("job %s: sub-batches cover %d inputs, job has %d", r.Name, next, r.InputCount)
	}
	switch r.Status {
	case StatusSubmitted, StatusRunning, StatusCompleted, StatusExpired:
		if r.InputCount == 0 || next != r.InputCount {
			return fmt.Errorf("job %s: sub-batches cover %d of %d inputs", r.Name, next, r.InputCount)
		}
	}
	if err := validateItemIDs(r.ItemIDs, r.InputCount); err != nil {
		return fmt.Errorf("job %s: %w", r.Name, err)
	}
	if r.Error != "" && r.Status != StatusFailed && r.Status != StatusExpired {
		return fmt.Errorf("job %s: error set on %s record", r.Name, r.Status)
	}
	return nil
}

// ItemID returns the caller key for the input at index, or "" when the job
// was started without keys.
func (r *Record) ItemID(index int) string {
	if index < 0 || index >= len(r.ItemIDs) {
		return ""
	}
	return r.ItemIDs[index]
}

func validateItemIDs(ids []string, inputs int) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != inputs {
		return fmt.Errorf("%d item ids for %d inputs", len(ids), inputs)
	}
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("item %d has a blank id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate item id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
