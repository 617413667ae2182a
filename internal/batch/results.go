package batch

import (
	"strconv"

	"texttools/internal/schema"
)

// Entry is the outcome for the input at Index. ID is the caller's key for
// the input, empty when the job was started without keys.
type Entry struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	schema.Outcome
}

// Key returns ID when set and the index otherwise.
func (e Entry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return strconv.Itoa(e.Index)
}

// ResultSet holds one entry per job input, ordered by index.
type ResultSet struct {
	JobName string  `json:"job_name"`
	Entries []Entry `json:"entries"`
}

// Len returns the number of entries.
func (s ResultSet) Len() int {
	return len(s.Entries)
}

// Parsed returns the entries whose output validated.
func (s ResultSet) Parsed() []Entry {
	return s.filter(true)
}

// Failed returns the entries whose output was missing or invalid.
func (s ResultSet) Failed() []Entry {
	return s.filter(false)
}

func (s ResultSet) filter(parsed bool) []Entry {
	out := make([]Entry, 0, len(s.Entries))
	for _, entry := range s.Entries {
		if entry.Parsed == parsed {
			out = append(out, entry)
		}
	}
	return out
}
