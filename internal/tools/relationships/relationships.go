package relationships

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

func init() {
	RegisterGetStixRelationshipsMapping()
	RegisterGetEntityNames()
	RegisterSearchEntitiesByName()
}

// RegisterGetStixRelationshipsMapping registers the get_stix_relationships_mapping tool
func RegisterGetStixRelationshipsMapping() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "get_stix_relationships_mapping",
		Description: "Get the relationship types linking STIX entity types",
		Profile:     "relationships",
		Schema: mcp.NewTool("get_stix_relationships_mapping",
			mcp.WithDescription("Get the relationship types each entity type takes part in. With type_name, only that entity's relationship types are returned; without it, the full entity to relationships mapping."),
			mcp.WithString("type_name",
				mcp.Description("Optional entity type to filter on (e.g. 'Malware')")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			g, err := fetch(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}
			mapping := g.Mapping()

			typeName := tools.GetString(args, "type_name")
			if typeName == "" {
				return tools.SuccessResult(map[string]interface{}{
					"relationships_mapping": mapping.FullMapping(),
				}), nil
			}

			rels, err := mapping.MappingFor(typeName)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}
			return tools.SuccessResult(map[string]interface{}{
				"filtered_type":         typeName,
				"relationships_mapping": rels,
			}), nil
		},
	})
}

// RegisterGetEntityNames registers the get_entity_names tool
func RegisterGetEntityNames() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "get_entity_names",
		Description: "List the entity types taking part in at least one relationship",
		Profile:     "relationships",
		Schema: mcp.NewTool("get_entity_names",
			mcp.WithDescription("List every entity type that takes part in at least one relationship type, sorted, with their count."),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			g, err := fetch(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			names := g.Mapping().EntityNames()
			return tools.SuccessResult(map[string]interface{}{
				"entity_names": names,
				"count":        len(names),
			}), nil
		},
	})
}

// RegisterSearchEntitiesByName registers the search_entities_by_name tool
func RegisterSearchEntitiesByName() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "search_entities_by_name",
		Description: "Find entity types whose name contains a search term",
		Profile:     "relationships",
		Schema: mcp.NewTool("search_entities_by_name",
			mcp.WithDescription("Find entity types whose name contains the given term, case-insensitively. Only types confirmed by the schema are returned."),
			mcp.WithString("entity_name",
				mcp.Required(),
				mcp.Description("Part of an entity type name (e.g. 'attack')")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			term := tools.GetString(args, "entity_name")
			if term == "" {
				return tools.ErrorResult("entity_name is required and cannot be empty"), nil
			}

			g, err := fetch(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			matches, err := g.SearchEntities(term)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}
			return tools.SuccessResult(map[string]interface{}{
				"search_term": term,
				"matches":     matches,
				"count":       len(matches),
			}), nil
		},
	})
}

func fetch(ctx context.Context) (*schema.Graph, error) {
	svc, err := tools.GetServices(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Source.Fetch(ctx, svc.RelationshipMode())
}
