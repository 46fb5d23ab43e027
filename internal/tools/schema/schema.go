package schema

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	gqlschema "github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

func init() {
	RegisterListGraphQLTypes()
	RegisterGetTypesDefinitions()
	RegisterGetTypesDefinitionsFromSchema()
	RegisterGetQueryFields()
	RegisterRefreshGraphQLSchema()
}

// FieldInfo is one field of a type definition with its bare type.
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Kind string `json:"kind"`
}

// ArgInfo is one argument of a root query field.
type ArgInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryField is one root query field with its arguments.
type QueryField struct {
	Name string    `json:"name"`
	Args []ArgInfo `json:"args"`
}

// RegisterListGraphQLTypes registers the list_graphql_types tool
func RegisterListGraphQLTypes() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "list_graphql_types",
		Description: "List every object, interface and union type of the OpenCTI GraphQL schema",
		Profile:     "schema",
		Schema: mcp.NewTool("list_graphql_types",
			mcp.WithDescription("List the names of all GraphQL object, interface and union types exposed by OpenCTI, sorted. Start here to discover which types get_types_definitions can describe."),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			g, err := fetch(ctx, gqlschema.ModeIntrospection)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}
			return tools.SuccessResult(g.ListTypeNames()), nil
		},
	})
}

// RegisterGetTypesDefinitions registers the get_types_definitions tool
func RegisterGetTypesDefinitions() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "get_types_definitions",
		Description: "Get the field definitions of one or more GraphQL types",
		Profile:     "schema",
		Schema: mcp.NewTool("get_types_definitions",
			mcp.WithDescription("Get the fields of one or more GraphQL types. Each field is reported with its bare type name and kind."),
			mcp.WithString("type_name",
				mcp.Required(),
				tools.StringOrList(),
				mcp.Description("A type name (e.g. 'Malware') or an array of type names (e.g. [\"Malware\", \"Campaign\"]). A JSON-encoded array string is also accepted.")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			names, err := tools.ParseStringList("type_name", args["type_name"])
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			g, err := fetch(ctx, gqlschema.ModeIntrospection)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			output := make([]map[string][]FieldInfo, 0, len(names))
			var missing []string
			for _, name := range names {
				fields, err := g.GetDefinition(name)
				if errors.Is(err, graphql.ErrNotFound) {
					missing = append(missing, name)
					continue
				}
				if err != nil {
					return tools.ErrorFromErr(err), nil
				}
				output = append(output, map[string][]FieldInfo{name: fieldInfos(fields)})
			}
			if len(missing) > 0 {
				return tools.ErrorResultf("type not found: %s", strings.Join(missing, ", ")), nil
			}

			return tools.SuccessResult(output), nil
		},
	})
}

// RegisterGetTypesDefinitionsFromSchema registers the get_types_definitions_from_schema tool
func RegisterGetTypesDefinitionsFromSchema() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "get_types_definitions_from_schema",
		Description: "Describe every STIX entity type of the served schema",
		Profile:     "schema",
		Schema: mcp.NewTool("get_types_definitions_from_schema",
			mcp.WithDescription("Describe every STIX entity type using the schema served at /schema (OpenCTI >= 6.8.0): scalar fields, the singular and plural query fields, the relationship label and the related entity types."),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			svc, err := tools.GetServices(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			var (
				g         *gqlschema.Graph
				relations []gqlschema.RelationsMappingEntry
			)
			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				var err error
				g, err = svc.Source.Fetch(egCtx, gqlschema.ModeSDL)
				return err
			})
			eg.Go(func() error {
				var err error
				relations, err = gqlschema.FetchRelationsMapping(egCtx, svc.Executor)
				return err
			})
			if err := eg.Wait(); err != nil {
				return tools.ErrorFromErr(err), nil
			}

			defs := gqlschema.EntityDefinitions(g, gqlschema.RelatedAdjacency(g, relations))
			return tools.SuccessResult(defs), nil
		},
	})
}

// RegisterGetQueryFields registers the get_query_fields tool
func RegisterGetQueryFields() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "get_query_fields",
		Description: "List the root query fields with their arguments",
		Profile:     "schema",
		Schema: mcp.NewTool("get_query_fields",
			mcp.WithDescription("List every field of the GraphQL Query root type with its arguments, sorted by name. Use these names as entry points for execute_graphql_query."),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			g, err := fetch(ctx, gqlschema.ModeIntrospection)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			fields, err := g.GetQueryFields()
			if errors.Is(err, graphql.ErrNotFound) {
				return tools.ErrorResult("Query type not found or has no fields"), nil
			}
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			out := make([]QueryField, len(fields))
			for i, f := range fields {
				qf := QueryField{Name: f.Name, Args: make([]ArgInfo, len(f.Args))}
				for j, a := range f.Args {
					qf.Args[j] = ArgInfo{Name: a.Name, Type: a.Type.Name}
				}
				out[i] = qf
			}

			return tools.SuccessResult(map[string]interface{}{
				"query_fields": out,
			}), nil
		},
	})
}

// RegisterRefreshGraphQLSchema registers the refresh_graphql_schema tool
func RegisterRefreshGraphQLSchema() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "refresh_graphql_schema",
		Description: "Refetch the cached GraphQL schema from OpenCTI",
		Profile:     "schema",
		Schema: mcp.NewTool("refresh_graphql_schema",
			mcp.WithDescription("Drop the cached schema and fetch it again from OpenCTI, e.g. after a platform upgrade. The previous schema stays in use if the fetch fails."),
			mcp.WithString("mode",
				mcp.Description("Which schema to refresh: 'introspection', 'sdl' or 'all' (default 'all')")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			modes, err := refreshModes(tools.GetString(args, "mode"))
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			svc, err := tools.GetServices(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}

			counts := make([]int, len(modes))
			eg, egCtx := errgroup.WithContext(ctx)
			for i, mode := range modes {
				eg.Go(func() error {
					g, err := svc.Source.Refresh(egCtx, mode)
					if err != nil {
						return err
					}
					counts[i] = g.Snapshot().Len()
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return tools.ErrorFromErr(err), nil
			}

			refreshed := make([]string, len(modes))
			types := make(map[string]int, len(modes))
			for i, mode := range modes {
				refreshed[i] = string(mode)
				types[string(mode)] = counts[i]
			}
			svc.Log().Info("Schema refreshed", "modes", refreshed)

			return tools.SuccessResult(map[string]interface{}{
				"refreshed": refreshed,
				"types":     types,
			}), nil
		},
	})
}

func refreshModes(arg string) ([]gqlschema.Mode, error) {
	if arg == "" || strings.EqualFold(arg, "all") {
		return []gqlschema.Mode{gqlschema.ModeIntrospection, gqlschema.ModeSDL}, nil
	}
	mode, err := gqlschema.ParseMode(arg)
	if err != nil {
		return nil, err
	}
	return []gqlschema.Mode{mode}, nil
}

func fetch(ctx context.Context, mode gqlschema.Mode) (*gqlschema.Graph, error) {
	svc, err := tools.GetServices(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Source.Fetch(ctx, mode)
}

func fieldInfos(fields []gqlschema.Field) []FieldInfo {
	out := make([]FieldInfo, len(fields))
	for i, f := range fields {
		out[i] = FieldInfo{Name: f.Name, Type: f.Type.Name, Kind: string(f.Type.Kind)}
	}
	return out
}
