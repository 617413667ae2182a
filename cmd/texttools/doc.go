// Command texttools submits text classification jobs to an LLM batch API,
// tracks them across restarts, and fetches validated results.
//
// Typical flow:
//
//	texttools start --job reviews --input reviews.txt --categories positive,negative
//	texttools wait reviews --interval 1m
//	texttools fetch reviews
//
// status performs a single non-blocking poll; wait repeats it until the job
// reaches a terminal state. classify runs the same schema synchronously for
// a handful of texts.
package main
