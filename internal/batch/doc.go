// Package batch orchestrates asynchronous LLM batch jobs.
//
// A job is started once with a list of inputs, a unique name and an output
// schema. The Submitter splits the inputs into provider-sized chunks and
// records the resulting sub-batches; the Poller aggregates sub-batch
// states into one job status; the Collector downloads, re-aligns and
// validates outputs; the Dispatcher hands the result set to handlers.
// Manager ties these together behind Start, CheckStatus and FetchResults.
//
// All durable state lives in a jobstate.Store, so every Manager call works
// across process restarts. Nothing in this package sleeps or keeps
// goroutines alive between calls: polling cadence belongs to the caller.
package batch
