// Package llm provides an OpenAI-compatible client for chat completions and
// the asynchronous Files/Batches API.
//
// This package is used by:
//   - provider/openai: upload JSONL request files, create and poll batches,
//     download output and error files
//   - categorizer: synchronous single-item classification
//   - texttools config validate --check-llm: endpoint health check
//
// # Configuration
//
// Requires api_key, model, and optionally base_url (chat endpoint),
// api_base_url (Files/Batches root), referer, title, temperature, timeout.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: send system/user prompts, receive JSON.
// Client.BatchLine: encode one JSONL request line.
// Client.UploadBatchFile, CreateBatch, RetrieveBatch, FileContent: batch lifecycle.
// ParseBatchResults: decode output/error files into per-request results.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// Chat completions, batch retrieval and file downloads retry on HTTP
// 408/429/5xx errors and network timeouts with exponential backoff (base 1s,
// max 10s, up to 5 attempts by default). Uploads and batch creation are sent
// once. Context cancellation aborts retries immediately.
package llm
