// Package vitalia is the public API for embedding the Vitalia analysis server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := vitalia.New(
//	    vitalia.WithVersion(version),
//	    vitalia.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: vitalia (root) imports
// internal/*, but internal/* never imports vitalia (root). Public extension
// interfaces (InferenceClient, EmbeddingProvider) are standalone and adapted
// to their internal counterparts here, because this is the only file that
// sees both sides of the boundary.
package vitalia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/vitalia-ai/vitalia/internal/auth"
	"github.com/vitalia-ai/vitalia/internal/config"
	"github.com/vitalia-ai/vitalia/internal/embedding"
	"github.com/vitalia-ai/vitalia/internal/inference"
	"github.com/vitalia-ai/vitalia/internal/mcp"
	"github.com/vitalia-ai/vitalia/internal/pipeline"
	"github.com/vitalia-ai/vitalia/internal/ratelimit"
	"github.com/vitalia-ai/vitalia/internal/server"
	"github.com/vitalia-ai/vitalia/internal/storage"
	"github.com/vitalia-ai/vitalia/internal/telemetry"
	"github.com/vitalia-ai/vitalia/migrations"
)

// App is the Vitalia server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	sqliteAudit  *storage.SQLiteAudit // nil unless the sqlite audit driver is configured
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Vitalia server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}
	logger.Info("vitalia starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Verify the critical table exists after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'user_memory')`,
	).Scan(&schemaOK); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'user_memory' does not exist after migration — check that the pgvector extension is created")
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Inference client — external override takes priority over config.
	var llm inference.Client
	if o.llm != nil {
		llm = &inferenceAdapter{c: o.llm}
	} else {
		llm = newInferenceClient(cfg, logger)
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embedder != nil {
		embedder = &embedderAdapter{p: o.embedder}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Audit sink: Postgres by default, local SQLite file when configured.
	var auditSink pipeline.AuditSink = db
	var sqliteAudit *storage.SQLiteAudit
	if cfg.AuditDriver == "sqlite" {
		sqliteAudit, err = storage.OpenSQLiteAudit(cfg.AuditPath)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("audit: %w", err)
		}
		auditSink = sqliteAudit
		logger.Info("audit sink: sqlite", "path", cfg.AuditPath)
	}

	coordinator, err := pipeline.New(pipeline.Config{
		Memory:    db,
		Telemetry: db,
		Audit:     auditSink,
		History:   db,
		Embedder:  embedder,
		LLM:       llm,
		Logger:    logger,
	})
	if err != nil {
		if sqliteAudit != nil {
			_ = sqliteAudit.Close()
		}
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	mcpSrv := mcp.New(coordinator, db, version, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPM > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPM)/60.0, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rpm", cfg.RateLimitRPM, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv, err := server.New(server.ServerConfig{
		Runner:              coordinator,
		Store:               db,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		AdminAPIKey:         cfg.AdminAPIKey,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})
	if err != nil {
		if sqliteAudit != nil {
			_ = sqliteAudit.Close()
		}
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("server: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		sqliteAudit:  sqliteAudit,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown is called automatically — callers
// should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the audit sink, the
// database pool, and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("vitalia shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if a.sqliteAudit != nil {
		_ = a.sqliteAudit.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("vitalia stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// inferenceAdapter wraps a public InferenceClient to satisfy inference.Client.
type inferenceAdapter struct {
	c InferenceClient
}

func (a *inferenceAdapter) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.c.GenerateText(ctx, prompt)
}

func (a *inferenceAdapter) GenerateJSON(ctx context.Context, prompt string, schema map[string]any) (json.RawMessage, error) {
	return a.c.GenerateJSON(ctx, prompt, schema)
}

// embedderAdapter wraps a public EmbeddingProvider to satisfy embedding.Provider.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// ── Helpers ────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newInferenceClient(cfg config.Config, logger *slog.Logger) inference.Client {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("no GEMINI_API_KEY configured — model stages will fail and be skipped")
		return inference.Disabled{}
	}
	client, err := inference.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.InferenceTimeout)
	if err != nil {
		logger.Error("gemini client init failed", "error", err)
		return inference.Disabled{}
	}
	logger.Info("inference: gemini", "model", cfg.GeminiModel)
	return client
}

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when VITALIA_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p
	case "noop":
		logger.Info("embedding provider: noop (semantic recall disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
			if err != nil {
				logger.Error("openai provider init failed", "error", err)
				return embedding.NewNoopProvider(dims)
			}
			return p
		}
		logger.Warn("no embedding provider available, using noop (semantic recall disabled)")
		return embedding.NewNoopProvider(dims)
	}
}
