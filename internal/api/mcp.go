package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/intelliinspect/internal/apperr"
)

const metricsURI = "inspect://metrics"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service Service
}

// NewMCPServer creates an MCP server exposing training and its results.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"intelliinspect",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("IntelliInspect trains a pass/fail classifier for manufacturing inspection data and reports its metrics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("train_model",
			mcp.WithDescription("Train the classifier on parsed.csv using the stored range selection and return the results record."),
		),
		mcpTrainModel(deps),
	)

	s.AddTool(
		mcp.NewTool("training_status",
			mcp.WithDescription("Report which artifacts exist and the outcome of the latest training run."),
		),
		mcpTrainingStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("training_metrics",
			mcp.WithDescription("Return the latest results record (metrics.json) verbatim."),
		),
		mcpTrainingMetrics(deps),
	)

	s.AddTool(
		mcp.NewTool("training_runs",
			mcp.WithDescription("List recent training runs, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 10)")),
		),
		mcpTrainingRuns(deps),
	)

	s.AddResource(
		mcp.NewResource(
			metricsURI,
			"Training Metrics",
			mcp.WithResourceDescription("Latest results record as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMetrics(deps),
	)

	return s
}

func mcpTrainModel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec, err := deps.Service.Train(ctx)
		if err != nil {
			if rec.Message != "" {
				return mcpError(fmt.Sprintf("%s (%s)", rec.Message, apperr.KindOf(err))), nil
			}
			return mcpError(fmt.Sprintf("training failed: %v (%s)", err, apperr.KindOf(err))), nil
		}
		return mcpJSON(rec)
	}
}

func mcpTrainingStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := deps.Service.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("status failed: %v", err)), nil
		}
		return mcpJSON(rep)
	}
}

func mcpTrainingMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := deps.Service.Metrics()
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(string(data)), nil
	}
}

func mcpTrainingRuns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > maxRunsLimit {
			limit = maxRunsLimit
		}
		runs, err := deps.Service.Runs(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing runs failed: %v", err)), nil
		}
		return mcpJSON(runs)
	}
}

func mcpResourceMetrics(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := deps.Service.Metrics()
		if err != nil {
			return nil, fmt.Errorf("failed to read metrics: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
