// Package handlers provides the result handlers invoked after a batch job's
// results are fetched.
//
// Handlers are configured in the [handlers] section of config.toml:
// output_file appends rows to a CSV file, log_results writes every entry
// to the log, and ntfy_topic posts a completion summary to ntfy. With
// nothing configured, FromConfig returns a single NoOp handler.
package handlers
