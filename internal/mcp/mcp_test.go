package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/pipeline"
	"github.com/vitalia-ai/vitalia/internal/storage"
	"github.com/vitalia-ai/vitalia/internal/testutil"
)

type fakeRunner struct {
	runErr  error
	lastReq model.RunRequest
	recalls []storage.AnalysisRecall
}

func (f *fakeRunner) Run(ctx context.Context, req model.RunRequest, obs pipeline.Observer) (model.RunReport, error) {
	f.lastReq = req
	if f.runErr != nil {
		return model.RunReport{}, f.runErr
	}
	return model.RunReport{
		UserID:    req.UserID,
		Archetype: "Foundation Builder",
		Stages: []model.StageStatus{
			{Stage: model.StageMetricAnalysis, State: model.StageSucceeded},
		},
	}, nil
}

func (f *fakeRunner) Recall(ctx context.Context, userID, query string, limit int) ([]storage.AnalysisRecall, error) {
	return f.recalls, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]model.ContinuityRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]model.ContinuityRecord{}}
}

func (f *fakeStore) GetMemory(ctx context.Context, userID string) (model.ContinuityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return model.ContinuityRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) CreateMemoryIfAbsent(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[userID]; !ok {
		f.records[userID] = model.ContinuityRecord{UserID: userID}
	}
	return nil
}

func (f *fakeStore) UpdateContext(ctx context.Context, userID string, patch model.ContextPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[userID]
	if patch.Goals != nil {
		if rec.Goals == nil {
			rec.Goals = map[string]any{}
		}
		for k, v := range patch.Goals {
			rec.Goals[k] = v
		}
	}
	f.records[userID] = rec
	return nil
}

func newTestServer(runner *fakeRunner, store *fakeStore) *Server {
	return New(runner, store, "test", testutil.TestLogger())
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestHandleRunReturnsReport(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, newFakeStore())

	result, err := srv.handleRun(context.Background(), toolRequest("vitalia_run", map[string]any{
		"user_id":   "alice",
		"days":      14,
		"archetype": "Peak Performer",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var report model.RunReport
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &report))
	assert.Equal(t, "alice", report.UserID)
	assert.Equal(t, 14, runner.lastReq.Days)
	assert.Equal(t, "Peak Performer", runner.lastReq.Archetype)
}

func TestHandleRunMissingUserID(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, newFakeStore())

	result, err := srv.handleRun(context.Background(), toolRequest("vitalia_run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "user_id")
}

func TestHandleRunPipelineError(t *testing.T) {
	runner := &fakeRunner{runErr: pipeline.ErrTelemetryUnavailable}
	srv := newTestServer(runner, newFakeStore())

	result, err := srv.handleRun(context.Background(), toolRequest("vitalia_run", map[string]any{
		"user_id": "alice",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "telemetry unavailable")
}

func TestHandleMemoryGet(t *testing.T) {
	store := newFakeStore()
	store.records["bob"] = model.ContinuityRecord{UserID: "bob", AnalysisCount: 3}
	srv := newTestServer(&fakeRunner{}, store)

	result, err := srv.handleMemoryGet(context.Background(), toolRequest("vitalia_memory_get", map[string]any{
		"user_id": "bob",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var rec model.ContinuityRecord
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &rec))
	assert.Equal(t, 3, rec.AnalysisCount)
}

func TestHandleMemoryGetNotFound(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, newFakeStore())

	result, err := srv.handleMemoryGet(context.Background(), toolRequest("vitalia_memory_get", map[string]any{
		"user_id": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleContextUpdate(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(&fakeRunner{}, store)

	result, err := srv.handleContextUpdate(context.Background(), toolRequest("vitalia_context_update", map[string]any{
		"user_id": "carol",
		"patch":   `{"goals": {"sleep_hours": 8}}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var rec model.ContinuityRecord
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &rec))
	assert.Equal(t, float64(8), rec.Goals["sleep_hours"])
}

func TestHandleContextUpdateRejectsBadPatch(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, newFakeStore())

	for name, patch := range map[string]string{
		"malformed": `{not json`,
		"empty":     `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := srv.handleContextUpdate(context.Background(), toolRequest("vitalia_context_update", map[string]any{
				"user_id": "carol",
				"patch":   patch,
			}))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestHandleRecall(t *testing.T) {
	runner := &fakeRunner{recalls: []storage.AnalysisRecall{
		{Narrative: "sleep has been trending up", Distance: 0.09},
	}}
	srv := newTestServer(runner, newFakeStore())

	result, err := srv.handleRecall(context.Background(), toolRequest("vitalia_recall", map[string]any{
		"user_id": "alice",
		"query":   "how is my sleep",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Results []storage.AnalysisRecall `json:"results"`
		Total   int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Contains(t, resp.Results[0].Narrative, "sleep")
}

func TestHandleMemoryResource(t *testing.T) {
	store := newFakeStore()
	store.records["dave"] = model.ContinuityRecord{UserID: "dave"}
	srv := newTestServer(&fakeRunner{}, store)

	contents, err := srv.handleMemoryResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "vitalia://memory/dave"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)
	assert.Contains(t, text.Text, `"dave"`)
}

func TestHandleMemoryResourceBadURI(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, newFakeStore())

	_, err := srv.handleMemoryResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "vitalia://other/dave"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}
