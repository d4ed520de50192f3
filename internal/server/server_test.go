package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalia-ai/vitalia/internal/auth"
	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/pipeline"
	"github.com/vitalia-ai/vitalia/internal/server"
	"github.com/vitalia-ai/vitalia/internal/storage"
)

const testAPIKey = "test-admin-key"

type fakeRunner struct {
	err    error
	report model.RunReport
}

func (f *fakeRunner) Run(_ context.Context, req model.RunRequest, obs pipeline.Observer) (model.RunReport, error) {
	if f.err != nil {
		return model.RunReport{}, f.err
	}
	report := f.report
	report.UserID = req.UserID
	if report.RunID == uuid.Nil {
		report.RunID = uuid.New()
	}
	for _, st := range report.Stages {
		if obs != nil {
			obs(st)
		}
	}
	return report, nil
}

func (f *fakeRunner) Recall(_ context.Context, _, _ string, _ int) ([]storage.AnalysisRecall, error) {
	return []storage.AnalysisRecall{{Narrative: "previously: sleep trending up"}}, nil
}

type fakeStore struct {
	records map[string]model.ContinuityRecord
	pingErr error
	entries []model.AuditEntry
}

func (s *fakeStore) GetMemory(_ context.Context, userID string) (model.ContinuityRecord, error) {
	rec, ok := s.records[userID]
	if !ok {
		return model.ContinuityRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) CreateMemoryIfAbsent(_ context.Context, userID string) error {
	if s.records == nil {
		s.records = map[string]model.ContinuityRecord{}
	}
	if _, ok := s.records[userID]; !ok {
		s.records[userID] = model.ContinuityRecord{UserID: userID}
	}
	return nil
}

func (s *fakeStore) UpdateContext(_ context.Context, userID string, patch model.ContextPatch) error {
	rec := s.records[userID]
	if rec.Goals == nil {
		rec.Goals = map[string]any{}
	}
	for k, v := range patch.Goals {
		rec.Goals[k] = v
	}
	s.records[userID] = rec
	return nil
}

func (s *fakeStore) ListAuditByUser(_ context.Context, userID string, _ int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func newTestServer(t *testing.T, runner *fakeRunner, store *fakeStore) *server.Server {
	t.Helper()
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	srv, err := server.New(server.ServerConfig{
		Runner:              runner,
		Store:               store,
		JWTMgr:              jwtMgr,
		Logger:              slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		AdminAPIKey:         testAPIKey,
		MaxRequestBodyBytes: 1 << 20,
	})
	require.NoError(t, err)
	return srv
}

func bearerToken(t *testing.T, srv *server.Server) string {
	t.Helper()
	body := `{"client_id":"test-client","api_key":"` + testAPIKey + `"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data.Token
}

func doAuthed(srv *server.Server, token, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthTokenRejectsBadKey(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeStore{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token",
		strings.NewReader(`{"client_id":"c","api_key":"wrong"}`))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeStore{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"user_id":"u1"}`))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRun(t *testing.T) {
	runner := &fakeRunner{report: model.RunReport{
		Archetype: "Foundation Builder",
		Stages: []model.StageStatus{
			{Stage: model.StageLoadMemory, State: model.StageSucceeded},
			{Stage: model.StageFetchTelemetry, State: model.StageSucceeded},
		},
	}}
	srv := newTestServer(t, runner, &fakeStore{})
	token := bearerToken(t, srv)

	rec := doAuthed(srv, token, http.MethodPost, "/v1/runs", `{"user_id":"u1","days":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data model.RunReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.Data.UserID)
	assert.Len(t, resp.Data.Stages, 2)

	// Envelope metadata is always present.
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleRunErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: user_id is required", pipeline.ErrFatalInput), http.StatusBadRequest},
		{fmt.Errorf("%w: connection refused", pipeline.ErrTelemetryUnavailable), http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := newTestServer(t, &fakeRunner{err: tc.err}, &fakeStore{})
		token := bearerToken(t, srv)
		rec := doAuthed(srv, token, http.MethodPost, "/v1/runs", `{"user_id":"u1","days":7}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestHandleRunStream(t *testing.T) {
	runner := &fakeRunner{report: model.RunReport{
		Stages: []model.StageStatus{
			{Stage: model.StageLoadMemory, State: model.StageSucceeded},
			{Stage: model.StageFetchTelemetry, State: model.StageSucceeded},
			{Stage: model.StageMetricAnalysis, State: model.StageFailed, Reason: "model down"},
		},
	}}
	srv := newTestServer(t, runner, &fakeStore{})
	token := bearerToken(t, srv)

	rec := doAuthed(srv, token, http.MethodPost, "/v1/runs/stream", `{"user_id":"u1","days":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event: stage"))
	assert.Equal(t, 1, strings.Count(body, "event: report"))
	assert.Contains(t, body, `"metric_analysis"`)
}

func TestHandleGetMemory(t *testing.T) {
	store := &fakeStore{records: map[string]model.ContinuityRecord{
		"u1": {UserID: "u1", AnalysisCount: 3},
	}}
	srv := newTestServer(t, &fakeRunner{}, store)
	token := bearerToken(t, srv)

	rec := doAuthed(srv, token, http.MethodGet, "/v1/memory/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analysis_count":3`)

	rec = doAuthed(srv, token, http.MethodGet, "/v1/memory/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateContext(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, &fakeRunner{}, store)
	token := bearerToken(t, srv)

	rec := doAuthed(srv, token, http.MethodPatch, "/v1/memory/u1/context",
		`{"goals":{"sleep_hours":8}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 8.0, store.records["u1"].Goals["sleep_hours"])

	// An empty patch is rejected before touching the store.
	rec = doAuthed(srv, token, http.MethodPatch, "/v1/memory/u1/context", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListAudit(t *testing.T) {
	store := &fakeStore{entries: []model.AuditEntry{
		{UserID: "u1", Direction: model.AuditInput},
		{UserID: "u1", Direction: model.AuditOutput},
		{UserID: "u2", Direction: model.AuditInput},
	}}
	srv := newTestServer(t, &fakeRunner{}, store)
	token := bearerToken(t, srv)

	rec := doAuthed(srv, token, http.MethodGet, "/v1/audit/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []model.AuditEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestHandleRecall(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeStore{})
	token := bearerToken(t, srv)

	rec := doAuthed(srv, token, http.MethodGet, "/v1/memory/u1/recall?q=sleep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sleep trending up")

	rec = doAuthed(srv, token, http.MethodGet, "/v1/memory/u1/recall", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthzDegraded(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeStore{pingErr: errors.New("down")})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
