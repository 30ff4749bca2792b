package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
)

var errNotConfigured = errors.New("story service not configured")

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.canRunTool(),
		s.readyTool(),
		s.validateTool(),
		s.commitTool(),
		s.progressTool(),
		s.contextTool(),
	)
}

func storyIDParam() mcplib.ToolOption {
	return mcplib.WithString("story_id",
		mcplib.Required(),
		mcplib.Description("The user story ID, e.g. US-001"),
	)
}

func phaseParam() mcplib.ToolOption {
	return mcplib.WithNumber("phase",
		mcplib.Required(),
		mcplib.Description("Phase number, 1 through 7"),
	)
}

func outputParam() mcplib.ToolOption {
	return mcplib.WithObject("output",
		mcplib.Required(),
		mcplib.Description("The phase output object produced by the agent"),
	)
}

func (s *Server) canRunTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("can_run_phase",
			mcplib.WithDescription("Check whether a phase's prerequisites are complete"),
			storyIDParam(), phaseParam(),
		),
		Handler: s.handleCanRun,
	}
}

func (s *Server) readyTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("ready_phases",
			mcplib.WithDescription("List the incomplete phases whose prerequisites are all complete"),
			storyIDParam(),
		),
		Handler: s.handleReady,
	}
}

func (s *Server) validateTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("validate_phase",
			mcplib.WithDescription("Validate a candidate phase output without committing it"),
			storyIDParam(), phaseParam(), outputParam(),
		),
		Handler: s.handleValidate,
	}
}

func (s *Server) commitTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("commit_phase",
			mcplib.WithDescription("Validate a phase output and record it in the story context"),
			storyIDParam(), phaseParam(), outputParam(),
		),
		Handler: s.handleCommit,
	}
}

func (s *Server) progressTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("get_progress",
			mcplib.WithDescription("Show per-phase status and the recommended next action"),
			storyIDParam(),
		),
		Handler: s.handleProgress,
	}
}

func (s *Server) contextTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("get_context",
			mcplib.WithDescription("Return the story's context document with all committed phase outputs"),
			storyIDParam(),
		),
		Handler: s.handleContext,
	}
}

// --- argument helpers ---

func argStoryID(req mcplib.CallToolRequest) (string, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	id, ok := req.GetArguments()["story_id"].(string)
	if !ok || id == "" {
		return "", errors.New("story_id is required")
	}
	return id, nil
}

func argPhase(req mcplib.CallToolRequest) (phase.ID, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	n, ok := req.GetArguments()["phase"].(float64)
	if !ok || n != math.Trunc(n) {
		return 0, errors.New("phase must be an integer")
	}
	return phase.ID(n), nil
}

func argOutput(req mcplib.CallToolRequest) (story.Output, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	out, ok := req.GetArguments()["output"].(map[string]any)
	if !ok {
		return nil, errors.New("output must be an object")
	}
	return story.Output(out), nil
}

// toolResultJSON encodes v as the tool's text content.
func toolResultJSON(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}

// --- handlers ---

func (s *Server) handleCanRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Stories == nil {
		return mcplib.NewToolResultError(errNotConfigured.Error()), nil
	}
	storyID, err := argStoryID(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	id, err := argPhase(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	d, err := s.deps.Stories.CanRun(ctx, storyID, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("can_run_phase %s/%d", storyID, id), err), nil
	}
	return toolResultJSON(struct {
		phase.Decision
		Reason string `json:"reason"`
	}{d, d.Reason()}), nil
}

func (s *Server) handleReady(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Stories == nil {
		return mcplib.NewToolResultError(errNotConfigured.Error()), nil
	}
	storyID, err := argStoryID(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	ids, err := s.deps.Stories.Ready(ctx, storyID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("ready_phases "+storyID, err), nil
	}
	if ids == nil {
		ids = []phase.ID{}
	}
	return toolResultJSON(map[string][]phase.ID{"ready": ids}), nil
}

func (s *Server) handleValidate(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Stories == nil {
		return mcplib.NewToolResultError(errNotConfigured.Error()), nil
	}
	storyID, id, out, err := phaseArgs(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	res, err := s.deps.Stories.Validate(ctx, storyID, id, out)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("validate_phase %s/%d", storyID, id), err), nil
	}
	return toolResultJSON(res), nil
}

func (s *Server) handleCommit(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Stories == nil {
		return mcplib.NewToolResultError(errNotConfigured.Error()), nil
	}
	storyID, id, out, err := phaseArgs(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	doc, err := s.deps.Stories.Commit(ctx, storyID, id, out)
	if err != nil {
		// A rejected candidate is reported with its failures so the agent can fix them.
		var failed *validation.FailedError
		if errors.As(err, &failed) {
			res := toolResultJSON(failed.Result)
			res.IsError = true
			return res, nil
		}
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("commit_phase %s/%d", storyID, id), err), nil
	}
	return toolResultJSON(doc), nil
}

func (s *Server) handleProgress(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Stories == nil {
		return mcplib.NewToolResultError(errNotConfigured.Error()), nil
	}
	storyID, err := argStoryID(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	v, err := s.deps.Stories.Project(ctx, storyID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("get_progress "+storyID, err), nil
	}
	return toolResultJSON(v), nil
}

func (s *Server) handleContext(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Stories == nil {
		return mcplib.NewToolResultError(errNotConfigured.Error()), nil
	}
	storyID, err := argStoryID(req)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	doc, _, err := s.deps.Stories.Get(ctx, storyID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("get_context "+storyID, err), nil
	}
	return toolResultJSON(doc), nil
}

func phaseArgs(req mcplib.CallToolRequest) (string, phase.ID, story.Output, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	storyID, err := argStoryID(req)
	if err != nil {
		return "", 0, nil, err
	}
	id, err := argPhase(req)
	if err != nil {
		return "", 0, nil, err
	}
	out, err := argOutput(req)
	if err != nil {
		return "", 0, nil, err
	}
	return storyID, id, out, nil
}
