package vitalia

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string
	llm         InferenceClient
	embedder    EmbeddingProvider
}

// WithPort overrides the TCP port from config (VITALIA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, a JSON logger at the configured level is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithInferenceClient replaces the configured model client (Gemini or disabled).
// All four analysis stages generate through the provided implementation.
func WithInferenceClient(c InferenceClient) Option {
	return func(o *resolvedOptions) { o.llm = c }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (OpenAI or noop) used for semantic recall over prior analyses.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embedder = p }
}
