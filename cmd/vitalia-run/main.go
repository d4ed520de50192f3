// Command vitalia-run executes one analysis pipeline run from the terminal
// and prints the stage report as JSON. Useful for smoke-testing a deployment
// and for cron-driven batch runs without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vitalia-ai/vitalia/internal/config"
	"github.com/vitalia-ai/vitalia/internal/embedding"
	"github.com/vitalia-ai/vitalia/internal/inference"
	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/pipeline"
	"github.com/vitalia-ai/vitalia/internal/storage"
)

func main() {
	userID := flag.String("user", "", "user ID to run the pipeline for (required)")
	days := flag.Int("days", 0, "telemetry window in days (0 = default)")
	arch := flag.String("archetype", "", "routine-plan archetype label")
	verbose := flag.Bool("v", false, "log each stage as it completes")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: vitalia-run -user <id> [-days N] [-archetype LABEL]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *userID, *days, *arch, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "vitalia-run: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, userID string, days int, arch string, verbose bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	var auditSink pipeline.AuditSink = db
	if cfg.AuditDriver == "sqlite" {
		sink, err := storage.OpenSQLiteAudit(cfg.AuditPath)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		defer sink.Close()
		auditSink = sink
	}

	var llm inference.Client = inference.Disabled{}
	if cfg.GeminiAPIKey != "" {
		llm, err = inference.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.InferenceTimeout)
		if err != nil {
			return fmt.Errorf("inference: %w", err)
		}
	}

	var embedder embedding.Provider = embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	if cfg.OpenAIAPIKey != "" {
		embedder, err = embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
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
		return fmt.Errorf("pipeline: %w", err)
	}

	var obs pipeline.Observer
	if verbose {
		obs = func(st model.StageStatus) {
			fmt.Fprintf(os.Stderr, "stage %-18s %s (%dms)\n", st.Stage, st.State, st.DurationMS)
		}
	}

	report, runErr := coordinator.Run(ctx, model.RunRequest{
		UserID:    userID,
		Days:      days,
		Archetype: arch,
	}, obs)
	if runErr != nil {
		return runErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
