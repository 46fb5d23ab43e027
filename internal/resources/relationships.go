// Package resources provides MCP resources for the OpenCTI MCP server.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolRelationshipsURI is the URI for the tool relationships resource.
const ToolRelationshipsURI = "opencti://tool-relationships"

// ToolRelationship describes how the output of one tool feeds another.
type ToolRelationship struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Type  string `json:"type"`
	Field string `json:"field,omitempty"`
}

// ToolRelationships contains the tool relationships and entry points
// for LLM orchestration.
type ToolRelationships struct {
	Version       string             `json:"version"`
	Relationships []ToolRelationship `json:"relationships"`
	EntryPoints   []string           `json:"entryPoints"`
}

var toolRelationships = ToolRelationships{
	Version: "1.0",
	Relationships: []ToolRelationship{
		// Type discovery
		{From: "list_graphql_types", To: "get_types_definitions", Type: "provides", Field: "type_name"},
		{From: "get_entity_names", To: "get_types_definitions", Type: "provides", Field: "type_name"},
		{From: "search_entities_by_name", To: "get_types_definitions", Type: "provides", Field: "type_name"},
		{From: "get_entity_names", To: "get_stix_relationships_mapping", Type: "provides", Field: "type_name"},
		{From: "search_entities_by_name", To: "get_stix_relationships_mapping", Type: "provides", Field: "type_name"},
		// Relationship types are themselves schema types
		{From: "get_stix_relationships_mapping", To: "get_types_definitions", Type: "provides", Field: "type_name"},
		// Query building
		{From: "get_query_fields", To: "validate_graphql_query", Type: "provides", Field: "query"},
		{From: "get_types_definitions", To: "validate_graphql_query", Type: "provides", Field: "query"},
		{From: "get_types_definitions_from_schema", To: "validate_graphql_query", Type: "provides", Field: "query"},
		{From: "validate_graphql_query", To: "execute_graphql_query", Type: "chains"},
		{From: "generate_graphql_query", To: "execute_graphql_query", Type: "provides", Field: "query"},
		// A refreshed schema invalidates earlier listings
		{From: "refresh_graphql_schema", To: "list_graphql_types", Type: "chains"},
		{From: "refresh_graphql_schema", To: "get_entity_names", Type: "chains"},
	},
	EntryPoints: []string{
		"get_entity_names",
		"search_entities_by_name",
		"get_query_fields",
		"generate_graphql_query",
	},
}

// ForTools returns the relationships restricted to the given tools. A nil
// slice keeps every relationship.
func ForTools(enabled []string) ToolRelationships {
	if enabled == nil {
		return toolRelationships
	}
	on := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		on[name] = true
	}

	out := ToolRelationships{Version: toolRelationships.Version}
	for _, r := range toolRelationships.Relationships {
		if on[r.From] && on[r.To] {
			out.Relationships = append(out.Relationships, r)
		}
	}
	for _, ep := range toolRelationships.EntryPoints {
		if on[ep] {
			out.EntryPoints = append(out.EntryPoints, ep)
		}
	}
	if out.Relationships == nil {
		out.Relationships = []ToolRelationship{}
	}
	if out.EntryPoints == nil {
		out.EntryPoints = []string{}
	}
	return out
}

// NewToolRelationshipsResource creates the resource definition.
func NewToolRelationshipsResource() mcp.Resource {
	return mcp.NewResource(
		ToolRelationshipsURI,
		"Tool Relationships",
		mcp.WithResourceDescription("Describes how the OpenCTI schema tools feed each other so a client can chain type discovery, relationship lookup and query execution."),
		mcp.WithMIMEType("application/json"),
	)
}

// Read returns the resource contents for uri.
func Read(uri string, enabled []string) ([]mcp.ResourceContents, error) {
	if uri != ToolRelationshipsURI {
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
	jsonData, err := json.Marshal(ForTools(enabled))
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ToolRelationshipsURI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// AddResourcesToServer adds all resources to the MCP server.
func AddResourcesToServer(s *server.MCPServer, enabled []string) {
	s.AddResource(NewToolRelationshipsResource(), func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return Read(req.Params.URI, enabled)
	})
}
