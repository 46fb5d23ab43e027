package gcs

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// WrapMCPResult offloads the JSON text of a successful tool result when it is
// too large. Error results, non-JSON text and results without a manager in
// ctx are returned unchanged.
func WrapMCPResult(ctx context.Context, result *mcp.CallToolResult, toolName string) *mcp.CallToolResult {
	if result == nil || result.IsError || len(result.Content) == 0 {
		return result
	}
	mgr := GetGCSManager(ctx)
	if mgr == nil {
		return result
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return result
	}

	var data interface{}
	if err := json.Unmarshal([]byte(text.Text), &data); err != nil {
		return result
	}

	wrapped, err := mgr.WrapResult(ctx, data, toolName)
	if err != nil {
		return result
	}

	wrappedJSON, err := json.Marshal(wrapped)
	if err != nil {
		return result
	}

	out := *result
	out.Content = append([]mcp.Content{mcp.NewTextContent(string(wrappedJSON))}, result.Content[1:]...)
	return &out
}
