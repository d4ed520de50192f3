// Package mcp implements the Model Context Protocol surface.
//
// The MCP server exposes the analysis pipeline and continuity records as
// tools and resources, so MCP-compatible assistants can trigger runs and
// read back a user's accumulated context.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/pipeline"
	"github.com/vitalia-ai/vitalia/internal/storage"
)

// Runner triggers analysis runs and semantic recall.
type Runner interface {
	Run(ctx context.Context, req model.RunRequest, obs pipeline.Observer) (model.RunReport, error)
	Recall(ctx context.Context, userID, query string, limit int) ([]storage.AnalysisRecall, error)
}

// Store reads and patches continuity records.
type Store interface {
	GetMemory(ctx context.Context, userID string) (model.ContinuityRecord, error)
	CreateMemoryIfAbsent(ctx context.Context, userID string) error
	UpdateContext(ctx context.Context, userID string, patch model.ContextPatch) error
}

// Server wraps the MCP server with the pipeline and storage layers.
type Server struct {
	mcpServer *mcpserver.MCPServer
	runner    Runner
	store     Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(runner Runner, store Store, version string, logger *slog.Logger) *Server {
	s := &Server{
		runner: runner,
		store:  store,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"vitalia",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// vitalia://memory/{user_id} — the user's continuity record.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"vitalia://memory/{user_id}",
			"User Memory",
			mcplib.WithTemplateDescription("Continuity record for a user: context maps, last analysis, and stored plans"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleMemoryResource,
	)
}

func (s *Server) registerTools() {
	// vitalia_run — execute a full analysis run.
	s.mcpServer.AddTool(
		mcplib.NewTool("vitalia_run",
			mcplib.WithDescription("Run the full health analysis pipeline for a user: metric narrative, behavior profile, nutrition plan, and routine plan. Returns the per-stage report."),
			mcplib.WithString("user_id", mcplib.Description("User identifier"), mcplib.Required()),
			mcplib.WithNumber("days", mcplib.Description("Telemetry window in days (default 7)")),
			mcplib.WithString("archetype", mcplib.Description("Routine-plan archetype label, e.g. \"Peak Performer\"")),
		),
		s.handleRun,
	)

	// vitalia_memory_get — read the continuity record.
	s.mcpServer.AddTool(
		mcplib.NewTool("vitalia_memory_get",
			mcplib.WithDescription("Fetch the continuity record for a user: preferences, goals, restrictions, last analysis, and stored plans"),
			mcplib.WithString("user_id", mcplib.Description("User identifier"), mcplib.Required()),
		),
		s.handleMemoryGet,
	)

	// vitalia_context_update — merge a partial context patch.
	s.mcpServer.AddTool(
		mcplib.NewTool("vitalia_context_update",
			mcplib.WithDescription("Merge a partial context patch into a user's record. The patch is a JSON object with any of: preferences, goals, dietary_restrictions, lifestyle_context, medical_conditions."),
			mcplib.WithString("user_id", mcplib.Description("User identifier"), mcplib.Required()),
			mcplib.WithString("patch", mcplib.Description("JSON object with the context maps to merge"), mcplib.Required()),
		),
		s.handleContextUpdate,
	)

	// vitalia_recall — semantic search over prior analyses.
	s.mcpServer.AddTool(
		mcplib.NewTool("vitalia_recall",
			mcplib.WithDescription("Search a user's prior analysis narratives by semantic similarity"),
			mcplib.WithString("user_id", mcplib.Description("User identifier"), mcplib.Required()),
			mcplib.WithString("query", mcplib.Description("Natural language search query"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleRecall,
	)
}

func (s *Server) handleMemoryResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	userID := strings.TrimPrefix(uri, "vitalia://memory/")
	if userID == "" || userID == uri {
		return nil, fmt.Errorf("mcp: invalid memory URI: %s", uri)
	}

	mem, err := s.store.GetMemory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mcp: read memory: %w", err)
	}

	data, err := json.MarshalIndent(mem, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal memory: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	if userID == "" {
		return errorResult("user_id is required"), nil
	}

	report, err := s.runner.Run(ctx, model.RunRequest{
		UserID:    userID,
		Days:      request.GetInt("days", 0),
		Archetype: request.GetString("archetype", ""),
	}, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("run failed: %v", err)), nil
	}

	return jsonResult(report)
}

func (s *Server) handleMemoryGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	if userID == "" {
		return errorResult("user_id is required"), nil
	}

	mem, err := s.store.GetMemory(ctx, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("read memory failed: %v", err)), nil
	}
	return jsonResult(mem)
}

func (s *Server) handleContextUpdate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	rawPatch := request.GetString("patch", "")
	if userID == "" || rawPatch == "" {
		return errorResult("user_id and patch are required"), nil
	}

	var patch model.ContextPatch
	if err := json.Unmarshal([]byte(rawPatch), &patch); err != nil {
		return errorResult(fmt.Sprintf("invalid patch: %v", err)), nil
	}
	if patch.Empty() {
		return errorResult("patch carries no changes"), nil
	}

	if err := s.store.CreateMemoryIfAbsent(ctx, userID); err != nil {
		return errorResult(fmt.Sprintf("update failed: %v", err)), nil
	}
	if err := s.store.UpdateContext(ctx, userID, patch); err != nil {
		return errorResult(fmt.Sprintf("update failed: %v", err)), nil
	}

	mem, err := s.store.GetMemory(ctx, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("reload failed: %v", err)), nil
	}
	return jsonResult(mem)
}

func (s *Server) handleRecall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	query := request.GetString("query", "")
	if userID == "" || query == "" {
		return errorResult("user_id and query are required"), nil
	}

	recalls, err := s.runner.Recall(ctx, userID, query, request.GetInt("limit", 3))
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"results": recalls,
		"total":   len(recalls),
	})
}

func jsonResult(data any) (*mcplib.CallToolResult, error) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(raw)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
