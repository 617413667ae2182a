// Package schema describes the shape every LLM result item must satisfy and
// validates raw provider text against it.
//
// A Descriptor is either a closed category set (each category carrying the
// textual values the model may answer with) or a structured field set with
// typed, required/optional fields. Descriptors are plain data so they can be
// persisted alongside a job record and reloaded after a restart.
//
// Parse never returns an error: a value that fails validation becomes a
// failed Outcome carrying the raw text and the reason, so one bad item cannot
// abort processing of its siblings.
package schema
