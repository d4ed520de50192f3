package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitalia-ai/vitalia/internal/auth"
	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/pipeline"
	"github.com/vitalia-ai/vitalia/internal/storage"
)

// Runner is the pipeline surface the HTTP layer calls into.
type Runner interface {
	Run(ctx context.Context, req model.RunRequest, obs pipeline.Observer) (model.RunReport, error)
	Recall(ctx context.Context, userID, query string, limit int) ([]storage.AnalysisRecall, error)
}

// Store is the storage surface the HTTP layer reads and patches directly.
type Store interface {
	GetMemory(ctx context.Context, userID string) (model.ContinuityRecord, error)
	CreateMemoryIfAbsent(ctx context.Context, userID string) error
	UpdateContext(ctx context.Context, userID string, patch model.ContextPatch) error
	ListAuditByUser(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error)
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	runner  Runner
	store   Store
	jwtMgr  *auth.JWTManager
	logger  *slog.Logger
	version string
	started time.Time

	// Argon2id hash of the admin API key; empty disables token issuance.
	apiKeyHash string
}

// HandlersDeps wires a Handlers.
type HandlersDeps struct {
	Runner      Runner
	Store       Store
	JWTMgr      *auth.JWTManager
	Logger      *slog.Logger
	Version     string
	AdminAPIKey string
}

// NewHandlers creates the handler set. The admin API key is hashed once here
// so the plaintext never sits in memory longer than startup.
func NewHandlers(deps HandlersDeps) (*Handlers, error) {
	h := &Handlers{
		runner:  deps.Runner,
		store:   deps.Store,
		jwtMgr:  deps.JWTMgr,
		logger:  deps.Logger,
		version: deps.Version,
		started: time.Now(),
	}
	if deps.AdminAPIKey != "" {
		hash, err := auth.HashAPIKey(deps.AdminAPIKey)
		if err != nil {
			return nil, fmt.Errorf("server: hash admin api key: %w", err)
		}
		h.apiKeyHash = hash
	}
	return h, nil
}

// HandleAuthToken exchanges a client_id + API key for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id and api_key are required")
		return
	}

	if h.apiKeyHash == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	ok, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.ClientID)
	if err != nil {
		h.logger.Error("issue token failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleRun executes one analysis run and returns the full report.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req model.RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	report, err := h.runner.Run(r.Context(), req, nil)
	if err != nil {
		h.writeRunError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleRunStream executes one run, streaming each stage status as an SSE
// event followed by a final report event.
func (h *Handlers) HandleRunStream(w http.ResponseWriter, r *http.Request) {
	var req model.RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The observer runs synchronously inside Run, so writing to w here is safe.
	report, err := h.runner.Run(r.Context(), req, func(st model.StageStatus) {
		writeSSE(w, "stage", st)
		flusher.Flush()
	})
	if err != nil && !errors.Is(err, pipeline.ErrTelemetryUnavailable) {
		writeSSE(w, "error", map[string]string{"message": err.Error()})
		flusher.Flush()
		return
	}
	// An aborted report still streams: the client sees the failed fetch stage
	// and the abort flag in the final report.
	writeSSE(w, "report", report)
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
}

func (h *Handlers) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrFatalInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, pipeline.ErrTelemetryUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "telemetry source unavailable")
	default:
		h.logger.Error("run failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "run failed")
	}
}

// HandleGetMemory returns the continuity record for a user.
func (h *Handlers) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	mem, err := h.store.GetMemory(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no continuity record for user")
			return
		}
		h.logger.Error("get memory failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load record")
		return
	}
	writeJSON(w, r, http.StatusOK, mem)
}

// HandleUpdateContext merges a partial context patch into the user's record,
// creating the record first if this is a new user.
func (h *Handlers) HandleUpdateContext(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if strings.TrimSpace(userID) == "" || len(userID) > model.MaxUserIDLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid user_id")
		return
	}

	var patch model.ContextPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if patch.Empty() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patch carries no changes")
		return
	}
	if raw, err := json.Marshal(patch); err != nil || len(raw) > model.MaxContextLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patch too large")
		return
	}

	if err := h.store.CreateMemoryIfAbsent(r.Context(), userID); err != nil {
		h.logger.Error("create memory failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to update context")
		return
	}
	if err := h.store.UpdateContext(r.Context(), userID, patch); err != nil {
		h.logger.Error("update context failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to update context")
		return
	}

	mem, err := h.store.GetMemory(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to reload record")
		return
	}
	writeJSON(w, r, http.StatusOK, mem)
}

// HandleListAudit returns recent audit entries for a user, newest first.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	limit := queryInt(r, "limit", 50)

	entries, err := h.store.ListAuditByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list audit failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list audit entries")
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleRecall returns prior narratives semantically similar to the query.
func (h *Handlers) HandleRecall(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "q is required")
		return
	}

	recalls, err := h.runner.Recall(r.Context(), userID, query, queryInt(r, "limit", 3))
	if err != nil {
		h.logger.Error("recall failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "recall failed")
		return
	}
	if recalls == nil {
		recalls = []storage.AnalysisRecall{}
	}
	writeJSON(w, r, http.StatusOK, recalls)
}

// HandleHealth reports process and database health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Postgres: "ok",
		Uptime:   int64(time.Since(h.started).Seconds()),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Postgres = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
