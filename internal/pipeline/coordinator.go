// Package pipeline coordinates one analysis run: load the user's continuity
// record, fetch telemetry, and walk the model stages in order, persisting
// each stage's result the moment it succeeds. A model failure degrades the
// run, it never aborts it — the only abort condition after validation is a
// telemetry fetch failure.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitalia-ai/vitalia/internal/archetype"
	"github.com/vitalia-ai/vitalia/internal/embedding"
	"github.com/vitalia-ai/vitalia/internal/inference"
	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/stage"
	"github.com/vitalia-ai/vitalia/internal/storage"
	"github.com/vitalia-ai/vitalia/internal/telemetry"

	"github.com/pgvector/pgvector-go"
)

// MemoryStore is the continuity-record surface the coordinator needs.
type MemoryStore interface {
	GetMemory(ctx context.Context, userID string) (model.ContinuityRecord, error)
	CreateMemoryIfAbsent(ctx context.Context, userID string) error
	PatchAnalysis(ctx context.Context, userID, narrative string, insights map[string]any) error
	PatchNutrition(ctx context.Context, userID string, plan json.RawMessage) error
	PatchBehavior(ctx context.Context, userID string, profile json.RawMessage) error
	PatchRoutine(ctx context.Context, userID string, plan json.RawMessage, label *string) error
}

// TelemetrySource fetches the raw health telemetry for a run.
type TelemetrySource interface {
	FetchSnapshot(ctx context.Context, userID string, days int) (model.TelemetrySnapshot, error)
}

// AuditSink receives the append-only input/output audit entries.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// HistoryStore records successful narratives for later semantic recall.
type HistoryStore interface {
	AppendAnalysisHistory(ctx context.Context, userID, narrative string, embedding pgvector.Vector) error
	SimilarAnalyses(ctx context.Context, userID string, query pgvector.Vector, limit int) ([]storage.AnalysisRecall, error)
}

// Observer receives each stage status as it settles. Used for streaming run
// progress; may be nil.
type Observer func(model.StageStatus)

// Config wires a Coordinator. Memory, Telemetry, Audit, and LLM are required;
// History and Embedder are optional and disable semantic recall when absent.
type Config struct {
	Memory    MemoryStore
	Telemetry TelemetrySource
	Audit     AuditSink
	History   HistoryStore
	Embedder  embedding.Provider
	LLM       inference.Client
	Logger    *slog.Logger
}

// Coordinator runs the analysis pipeline.
type Coordinator struct {
	memory    MemoryStore
	telemetry TelemetrySource
	audit     AuditSink
	history   HistoryStore
	embedder  embedding.Provider
	logger    *slog.Logger
	tracer    trace.Tracer

	metrics   *stage.MetricAnalyzer
	behavior  *stage.BehaviorAnalyzer
	nutrition *stage.NutritionPlanner
	routine   *stage.RoutinePlanner

	stageDuration metric.Float64Histogram
	runCounter    metric.Int64Counter
}

// New builds a Coordinator from its dependencies.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Memory == nil || cfg.Telemetry == nil || cfg.Audit == nil || cfg.LLM == nil {
		return nil, fmt.Errorf("pipeline: memory, telemetry, audit, and llm are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meter := telemetry.Meter("vitalia/pipeline")
	stageDuration, err := meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Stage execution time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: create stage histogram: %w", err)
	}
	runCounter, err := meter.Int64Counter("pipeline.runs",
		metric.WithDescription("Completed pipeline runs"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: create run counter: %w", err)
	}

	return &Coordinator{
		memory:        cfg.Memory,
		telemetry:     cfg.Telemetry,
		audit:         cfg.Audit,
		history:       cfg.History,
		embedder:      cfg.Embedder,
		logger:        logger,
		tracer:        telemetry.Tracer("vitalia/pipeline"),
		metrics:       stage.NewMetricAnalyzer(cfg.LLM, logger),
		behavior:      stage.NewBehaviorAnalyzer(cfg.LLM, logger),
		nutrition:     stage.NewNutritionPlanner(cfg.LLM, logger),
		routine:       stage.NewRoutinePlanner(cfg.LLM, logger),
		stageDuration: stageDuration,
		runCounter:    runCounter,
	}, nil
}

// Run executes one pipeline run for the request. The returned report carries
// the per-stage status vector; a non-nil error means the run never produced
// one (invalid input) or was aborted before any state was written (telemetry
// unavailable).
func (c *Coordinator) Run(ctx context.Context, req model.RunRequest, obs Observer) (model.RunReport, error) {
	if req.Days == 0 {
		req.Days = model.DefaultDays
	}
	if err := model.ValidateRunRequest(req); err != nil {
		return model.RunReport{}, fmt.Errorf("%w: %v", ErrFatalInput, err)
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.Int("window.days", req.Days),
		))
	defer span.End()

	variant := archetype.Resolve(req.Archetype)
	report := model.RunReport{
		RunID:     uuid.New(),
		UserID:    req.UserID,
		Archetype: string(variant.Archetype),
		StartedAt: time.Now().UTC(),
	}
	logger := c.logger.With("run_id", report.RunID, "user_id", req.UserID)

	emit := func(st model.StageStatus) {
		report.Stages = append(report.Stages, st)
		c.stageDuration.Record(ctx, float64(st.DurationMS),
			metric.WithAttributes(
				attribute.String("stage", string(st.Stage)),
				attribute.String("state", string(st.State)),
			))
		if st.State == model.StageFailed {
			logger.Warn("stage failed", "stage", st.Stage, "reason", st.Reason)
		}
		if obs != nil {
			obs(st)
		}
	}

	// Continuity record. A missing record is created and re-read so a new
	// user's first run still counts as a successful load. Any other failure
	// degrades to an empty record rather than aborting.
	mem, loadStatus := c.loadMemory(ctx, req.UserID)
	emit(loadStatus)

	// Telemetry. The one hard dependency: no snapshot, no run. Nothing has
	// been patched or audited at this point, so an abort leaves no trace
	// beyond the report itself.
	fetchStart := time.Now()
	snap, err := c.telemetry.FetchSnapshot(ctx, req.UserID, req.Days)
	if err != nil {
		emit(model.StageStatus{
			Stage:      model.StageFetchTelemetry,
			State:      model.StageFailed,
			Reason:     err.Error(),
			DurationMS: time.Since(fetchStart).Milliseconds(),
		})
		report.Aborted = true
		report.AbortReason = "telemetry unavailable"
		report.FinishedAt = time.Now().UTC()
		c.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("aborted", true)))
		return report, fmt.Errorf("%w: %v", ErrTelemetryUnavailable, err)
	}
	emit(model.StageStatus{
		Stage:      model.StageFetchTelemetry,
		State:      model.StageSucceeded,
		DurationMS: time.Since(fetchStart).Milliseconds(),
	})

	c.appendAudit(ctx, logger, report.RunID, req.UserID, model.AuditInput, inputPayload(req, snap, mem))

	// Metric analysis. The downstream stages all feed on its narrative, so
	// a failure here skips them instead of running them blind. Prior
	// narratives near the current context are recalled into the prompt when
	// an embedder is configured.
	recalled := c.recallSimilar(ctx, logger, req.UserID, snap, mem)

	var narrative string
	metricRes, st := timed(model.StageMetricAnalysis, func() stage.Result[stage.MetricResult] {
		return c.metrics.Run(ctx, snap, mem, recalled)
	})
	emit(st)
	if metricRes.OK {
		narrative = metricRes.Value.Narrative
		report.Narrative = narrative
		report.Insights = metricRes.Value.Insights
		c.patch(ctx, logger, "analysis", func() error {
			return c.memory.PatchAnalysis(ctx, req.UserID, narrative, metricRes.Value.Insights)
		})
		c.recordHistory(ctx, logger, req.UserID, narrative)

		behaviorRes, st := timed(model.StageBehaviorAnalysis, func() stage.Result[model.BehaviorProfile] {
			return c.behavior.Run(ctx, snap, narrative)
		})
		emit(st)
		if behaviorRes.OK {
			profile := behaviorRes.Value
			report.Behavior = &profile
			c.patch(ctx, logger, "behavior", func() error {
				raw, err := json.Marshal(profile)
				if err != nil {
					return err
				}
				return c.memory.PatchBehavior(ctx, req.UserID, raw)
			})
		}

		nutritionRes, st := timed(model.StageNutritionPlan, func() stage.Result[model.NutritionPlan] {
			return c.nutrition.Run(ctx, narrative)
		})
		emit(st)
		if nutritionRes.OK {
			plan := nutritionRes.Value
			report.NutritionPlan = &plan
			c.patch(ctx, logger, "nutrition", func() error {
				raw, err := json.Marshal(plan)
				if err != nil {
					return err
				}
				return c.memory.PatchNutrition(ctx, req.UserID, raw)
			})
		}

		routineRes, st := timed(model.StageRoutinePlan, func() stage.Result[model.RoutinePlan] {
			return c.routine.Run(ctx, narrative, report.Behavior, variant)
		})
		emit(st)
		if routineRes.OK {
			plan := routineRes.Value
			report.RoutinePlan = &plan
			c.patch(ctx, logger, "routine", func() error {
				raw, err := json.Marshal(plan)
				if err != nil {
					return err
				}
				return c.memory.PatchRoutine(ctx, req.UserID, raw, routineLabel(req.Archetype))
			})
		}
	} else {
		reason := "metric analysis failed"
		for _, s := range []model.Stage{model.StageBehaviorAnalysis, model.StageNutritionPlan, model.StageRoutinePlan} {
			emit(model.StageStatus{Stage: s, State: model.StageSkipped, Reason: reason})
		}
	}

	report.FinishedAt = time.Now().UTC()

	// The output entry is appended exactly once per non-aborted run, even
	// when every model stage failed: "nothing worked" is itself a recorded
	// outcome.
	c.appendAudit(ctx, logger, report.RunID, req.UserID, model.AuditOutput, outputPayload(report))
	c.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("aborted", false)))
	return report, nil
}

// Recall returns prior narratives semantically similar to the query text.
// Returns nil without error when recall is not configured.
func (c *Coordinator) Recall(ctx context.Context, userID, query string, limit int) ([]storage.AnalysisRecall, error) {
	if c.history == nil || c.embedder == nil {
		return nil, nil
	}
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embedding.ErrDisabled) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: embed recall query: %w", err)
	}
	return c.history.SimilarAnalyses(ctx, userID, vec, limit)
}

func (c *Coordinator) loadMemory(ctx context.Context, userID string) (model.ContinuityRecord, model.StageStatus) {
	start := time.Now()
	status := func(state model.StageState, reason string) model.StageStatus {
		return model.StageStatus{
			Stage:      model.StageLoadMemory,
			State:      state,
			Reason:     reason,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	mem, err := c.memory.GetMemory(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		if err := c.memory.CreateMemoryIfAbsent(ctx, userID); err == nil {
			mem, err = c.memory.GetMemory(ctx, userID)
		}
	}
	if err != nil {
		// Degrade to an empty record: the run proceeds without prior context.
		return model.ContinuityRecord{UserID: userID}, status(model.StageFailed, err.Error())
	}
	return mem, status(model.StageSucceeded, "")
}

// recallLimit caps how many prior narratives feed the metric prompt.
const recallLimit = 3

// recallSimilar fetches prior narratives semantically close to this run's
// metric-analysis context. Best effort: a disabled embedder or a store fault
// returns nil and the run proceeds without recall.
func (c *Coordinator) recallSimilar(ctx context.Context, logger *slog.Logger, userID string, snap model.TelemetrySnapshot, mem model.ContinuityRecord) []string {
	if c.history == nil || c.embedder == nil {
		return nil
	}
	// The recall-free prompt is the query: it is deterministic for the run's
	// inputs and describes exactly what the model is about to be asked.
	vec, err := c.embedder.Embed(ctx, c.metrics.BuildPrompt(snap, mem, nil))
	if err != nil {
		if !errors.Is(err, embedding.ErrDisabled) {
			logger.Warn("embedding recall query failed", "error", err)
		}
		return nil
	}
	recalls, err := c.history.SimilarAnalyses(ctx, userID, vec, recallLimit)
	if err != nil {
		logger.Warn("analysis recall failed", "error", err)
		return nil
	}
	narratives := make([]string, 0, len(recalls))
	for _, r := range recalls {
		narratives = append(narratives, r.Narrative)
	}
	return narratives
}

// recordHistory embeds the narrative and appends it to the semantic history.
// Best effort: a disabled embedder skips silently, anything else logs.
func (c *Coordinator) recordHistory(ctx context.Context, logger *slog.Logger, userID, narrative string) {
	if c.history == nil || c.embedder == nil {
		return
	}
	vec, err := c.embedder.Embed(ctx, narrative)
	if err != nil {
		if !errors.Is(err, embedding.ErrDisabled) {
			logger.Warn("embedding narrative failed", "error", err)
		}
		return
	}
	if err := c.history.AppendAnalysisHistory(ctx, userID, narrative, vec); err != nil {
		logger.Warn("analysis history append failed", "error", err)
	}
}

// patch persists one stage result. Transient serialization conflicts (two
// concurrent runs patching the same record) are retried; remaining failures
// are logged and swallowed: the stage already succeeded, losing the write
// must not fail the run.
func (c *Coordinator) patch(ctx context.Context, logger *slog.Logger, what string, fn func() error) {
	if err := storage.WithRetry(ctx, 2, 50*time.Millisecond, fn); err != nil {
		logger.Warn("continuity patch failed", "patch", what, "error", err)
	}
}

func (c *Coordinator) appendAudit(ctx context.Context, logger *slog.Logger, runID uuid.UUID, userID, direction string, payload json.RawMessage) {
	entry := model.AuditEntry{
		RunID:     runID,
		UserID:    userID,
		Direction: direction,
		Payload:   payload,
	}
	if err := c.audit.AppendAudit(ctx, entry); err != nil {
		logger.Warn("audit append failed", "direction", direction, "error", err)
	}
}

// routineLabel returns the canonical archetype label for the routine patch,
// or nil for the generic slot when no recognized archetype was requested.
func routineLabel(requested string) *string {
	if !archetype.Known(requested) {
		return nil
	}
	canonical := strings.TrimSpace(requested)
	return &canonical
}

// timed runs one stage function and folds its Result into a StageStatus.
func timed[T any](name model.Stage, fn func() stage.Result[T]) (stage.Result[T], model.StageStatus) {
	start := time.Now()
	res := fn()
	st := model.StageStatus{
		Stage:      name,
		State:      model.StageSucceeded,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if !res.OK {
		st.State = model.StageFailed
		st.Reason = res.Reason
	}
	return res, st
}

func inputPayload(req model.RunRequest, snap model.TelemetrySnapshot, mem model.ContinuityRecord) json.RawMessage {
	raw, err := json.Marshal(map[string]any{
		"request": req,
		"window":  snap.Window,
		"telemetry": map[string]int{
			"scores":     len(snap.Scores),
			"archetypes": len(snap.Archetypes),
			"biomarkers": len(snap.Biomarkers),
		},
		"snapshot": snap,
		"context": map[string]any{
			"preferences":          mem.Preferences,
			"goals":                mem.Goals,
			"dietary_restrictions": mem.DietaryRestrictions,
			"lifestyle_context":    mem.LifestyleContext,
			"medical_conditions":   mem.MedicalConditions,
			"analysis_count":       mem.AnalysisCount,
		},
	})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func outputPayload(report model.RunReport) json.RawMessage {
	raw, err := json.Marshal(report)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
