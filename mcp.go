package pgmcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers every tool from ListTools on the given MCP
// server, each forwarding to d.Dispatch.
func RegisterMCPTools(mcpServer *server.MCPServer, d *Dispatcher) {
	for _, tool := range ListTools() {
		mcpServer.AddTool(tool, d.loggedToolHandler(tool.Name, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return d.Dispatch(ctx, req.Params.Name, req.GetArguments()), nil
		}))
	}
}

// loggedToolHandler wraps a tool handler to log one line per call.
func (d *Dispatcher) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		startTime := time.Now()
		callID := uuid.NewString()
		result, err := handler(ctx, req)
		d.logger.Info().
			Str("tool", tool).
			Str("call_id", callID).
			Int("request_bytes", requestLength(req)).
			Int("response_bytes", resultLength(result)).
			Bool("is_error", result != nil && result.IsError).
			Dur("duration", time.Since(startTime)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
