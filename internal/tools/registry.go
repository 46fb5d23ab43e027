package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/FiligranHQ/xtm-mcp/internal/auth"
	"github.com/FiligranHQ/xtm-mcp/internal/gcs"
	"github.com/FiligranHQ/xtm-mcp/internal/metrics"
)

// ToolHandler is the function signature for MCP tool handlers
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error)

// ToolRegistration holds a tool's metadata and handler
type ToolRegistration struct {
	Name        string
	Description string
	Handler     ToolHandler
	Schema      mcp.Tool
	Profile     string
	RequiresAI  bool // Only served when an LLM backend is configured
}

// Options tunes which registered tools are served.
type Options struct {
	AIEnabled bool
}

// Global tool registry
var registry = make(map[string]*ToolRegistration)

// ProfileDefinitions maps profile names to tool names. configs/profiles.yaml
// replaces these defaults when it is found at startup.
var ProfileDefinitions = map[string][]string{
	"schema": {
		"list_graphql_types",
		"get_types_definitions",
		"get_types_definitions_from_schema",
		"get_query_fields",
		"refresh_graphql_schema",
	},
	"relationships": {
		"get_stix_relationships_mapping",
		"get_entity_names",
		"search_entities_by_name",
	},
	"query": {
		"execute_graphql_query",
		"validate_graphql_query",
		"get_query_fields",
	},
	"ai_powered": {
		"generate_graphql_query",
	},
}

// RegisterTool adds a tool to the registry
func RegisterTool(reg *ToolRegistration) {
	registry[reg.Name] = reg
}

// GetTool retrieves a tool from the registry
func GetTool(name string) (*ToolRegistration, bool) {
	tool, ok := registry[name]
	return tool, ok
}

// GetAllRegisteredToolNames returns every registered tool name, sorted
func GetAllRegisteredToolNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateToolNames reports every name that has no registered tool.
func ValidateToolNames(names []string) error {
	var unknown []string
	for _, name := range names {
		if _, ok := registry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown tools: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// ValidateProfile reports whether profile names a known profile or "all".
func ValidateProfile(profile string) error {
	if profile == "all" {
		return nil
	}
	if _, ok := ProfileDefinitions[profile]; !ok {
		names := make([]string, 0, len(ProfileDefinitions)+1)
		for name := range ProfileDefinitions {
			names = append(names, name)
		}
		names = append(names, "all")
		sort.Strings(names)
		return fmt.Errorf("unknown profile %q (valid: %v)", profile, names)
	}
	return nil
}

// GetToolsForProfile returns all tool names for a given profile, sorted
func GetToolsForProfile(profile string) []string {
	seen := make(map[string]bool)
	if profile == "all" {
		for _, tools := range ProfileDefinitions {
			for _, tool := range tools {
				seen[tool] = true
			}
		}
	} else {
		for _, tool := range ProfileDefinitions[profile] {
			seen[tool] = true
		}
	}

	result := make([]string, 0, len(seen))
	for tool := range seen {
		result = append(result, tool)
	}
	sort.Strings(result)
	return result
}

// ResolveTools returns the registrations served for a profile, sorted by name.
// Profile entries without a registered implementation are skipped.
func ResolveTools(profile string, opts Options) []*ToolRegistration {
	var out []*ToolRegistration
	for _, name := range GetToolsForProfile(profile) {
		reg, ok := GetTool(name)
		if !ok {
			continue
		}
		if reg.RequiresAI && !opts.AIEnabled {
			continue
		}
		out = append(out, reg)
	}
	return out
}

// ResolveNamedTools is ResolveTools for an explicit tool list. Unknown
// names are skipped; call ValidateToolNames first to reject them.
func ResolveNamedTools(names []string, opts Options) []*ToolRegistration {
	seen := make(map[string]bool, len(names))
	var out []*ToolRegistration
	for _, name := range names {
		reg, ok := GetTool(name)
		if !ok || seen[name] || (reg.RequiresAI && !opts.AIEnabled) {
			continue
		}
		seen[name] = true
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the tool names of regs.
func Names(regs []*ToolRegistration) []string {
	out := make([]string, len(regs))
	for i, reg := range regs {
		out[i] = reg.Name
	}
	return out
}

// AddToolsToServer adds all tools for a profile to an MCP server and returns
// the names that were added.
func AddToolsToServer(s *server.MCPServer, profile string, opts Options) []string {
	regs := ResolveTools(profile, opts)
	for _, reg := range regs {
		s.AddTool(reg.Schema, wrapHandler(reg))
	}
	return Names(regs)
}

// wrapHandler converts our ToolHandler to mcp-go's expected signature
func wrapHandler(reg *ToolRegistration) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return Invoke(ctx, reg, request.GetArguments())
	}
}

// Invoke runs a tool handler with metrics, operation accounting and
// oversized result offload applied.
func Invoke(ctx context.Context, reg *ToolRegistration, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	result, err := reg.Handler(ctx, args)
	elapsed := time.Since(start)

	failed := err != nil || (result != nil && result.IsError)
	metrics.GetCollectors(ctx).ObserveToolCall(reg.Name, failed, elapsed)
	metrics.GetManager(ctx).RecordOperation(auth.GetCredentials(ctx), reg.Name)

	logger := loggerFrom(ctx)
	if err != nil {
		logger.Error("Tool handler failed", "tool", reg.Name, "duration_ms", elapsed.Milliseconds(), "error", err)
		return result, err
	}
	logger.Debug("Tool call completed", "tool", reg.Name, "duration_ms", elapsed.Milliseconds(), "is_error", failed)

	return gcs.WrapMCPResult(ctx, result, reg.Name), nil
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if svc, err := GetServices(ctx); err == nil {
		return svc.Log()
	}
	return slog.Default()
}
