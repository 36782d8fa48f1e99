package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfmill/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store ResultReader
}

// NewMCPServer creates an MCP server exposing the extraction database
// to MCP clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pdfmill",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pdfmill — query extracted PDF text, search results, and extraction statistics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("extraction_stats",
			mcp.WithDescription("Return aggregate statistics over all stored extractions: totals, success/failure counts, average processing time, and a per-method breakdown."),
		),
		mcpStats(deps),
	)

	s.AddTool(
		mcp.NewTool("search_extractions",
			mcp.WithDescription("Search extracted text for a substring (case-sensitive) and return matching files with a short preview."),
			mcp.WithString("query", mcp.Description("Substring to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("get_extraction",
			mcp.WithDescription("Fetch a single extraction record by id, including the full extracted text."),
			mcp.WithNumber("id", mcp.Description("Extraction record id"), mcp.Required()),
		),
		mcpGet(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pdfmill://stats",
			"Extraction Statistics",
			mcp.WithResourceDescription("Aggregate extraction statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.GetStats()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read stats: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"total":               stats.Total,
			"succeeded":           stats.Succeeded,
			"failed":              stats.Failed,
			"avg_processing_time": stats.AvgSeconds,
			"by_method":           stats.ByMethod,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		results, err := deps.Store.Search(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type match struct {
			FilePath  string `json:"file_path"`
			Method    string `json:"method"`
			Preview   string `json:"preview"`
			Timestamp string `json:"timestamp"`
		}

		out := make([]match, len(results))
		for i, res := range results {
			out[i] = match{
				FilePath:  res.FilePath,
				Method:    res.Method,
				Preview:   res.Preview,
				Timestamp: res.Timestamp.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id is required and must be positive"), nil
		}

		e, err := deps.Store.GetExtraction(int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no extraction with id %d", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read extraction: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"id":            e.ID,
			"file_path":     e.FilePath,
			"file_hash":     e.FileHash,
			"file_size":     e.FileSize,
			"method":        e.Method,
			"text":          e.Text,
			"page_count":    e.PageCount,
			"seconds":       e.Seconds,
			"timestamp":     e.Timestamp.Format(time.RFC3339),
			"success":       e.Success,
			"error_message": e.ErrorMessage,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal extraction: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.GetStats()
		if err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}

		b, err := json.Marshal(map[string]any{
			"total":               stats.Total,
			"succeeded":           stats.Succeeded,
			"failed":              stats.Failed,
			"avg_processing_time": stats.AvgSeconds,
			"by_method":           stats.ByMethod,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
