package config

const (
	defaultConfigPath            = "~/.config/texttools/config.toml"
	defaultStateDir              = "~/.local/share/texttools/state"
	defaultLogDir                = "~/.local/share/texttools/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLLMBaseURL            = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel              = "gpt-4o-mini"
	defaultLLMTitle              = "texttools"
	defaultLLMTimeoutSeconds     = 60
	defaultBatchBaseURL          = "https://api.openai.com/v1"
	defaultCompletionWindow      = "24h"
	defaultMaxChunkSize          = 50000
	defaultMaxConcurrentRequests = 4
	defaultHandlerTimeout        = 10
	defaultMetricsBind           = "127.0.0.1:9464"

	// BackendFile stores all job records in a single JSON document.
	BackendFile = "file"
	// BackendSQLite stores job records in an SQLite database.
	BackendSQLite = "sqlite"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		State: State{
			Backend: BackendFile,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Batch: Batch{
			BaseURL:               defaultBatchBaseURL,
			CompletionWindow:      defaultCompletionWindow,
			MaxChunkSize:          defaultMaxChunkSize,
			MaxConcurrentRequests: defaultMaxConcurrentRequests,
		},
		Handlers: Handlers{
			RequestTimeout: defaultHandlerTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
	}
}
