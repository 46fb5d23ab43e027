package query

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

func init() {
	RegisterExecuteGraphQLQuery()
	RegisterValidateGraphQLQuery()
}

// RegisterExecuteGraphQLQuery registers the execute_graphql_query tool
func RegisterExecuteGraphQLQuery() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "execute_graphql_query",
		Description: "Run a read-only GraphQL query against OpenCTI",
		Profile:     "query",
		Schema: mcp.NewTool("execute_graphql_query",
			mcp.WithDescription("Run a GraphQL query against OpenCTI and return its data. A bare selection set such as '{ malwares(first: 5) { edges { node { name } } } }' is accepted. Returns {success, data} or {success: false, error}."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The GraphQL query text")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			return run(ctx, args, (*graphql.QueryFacade).Execute)
		},
	})
}

// RegisterValidateGraphQLQuery registers the validate_graphql_query tool
func RegisterValidateGraphQLQuery() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "validate_graphql_query",
		Description: "Check that a GraphQL query runs without errors",
		Profile:     "query",
		Schema: mcp.NewTool("validate_graphql_query",
			mcp.WithDescription("Check a GraphQL query by running it against OpenCTI and reporting whether it errored. The data is discarded. Returns {success: true, error: \"\"} or {success: false, error}."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The GraphQL query text")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			return run(ctx, args, (*graphql.QueryFacade).Validate)
		},
	})
}

type facadeCall func(f *graphql.QueryFacade, ctx context.Context, text string) (graphql.Result, error)

// run reports query failures as {success: false} payloads; only a missing
// query or missing services produce an error result.
func run(ctx context.Context, args map[string]interface{}, call facadeCall) (*mcp.CallToolResult, error) {
	text, _ := args["query"].(string)

	svc, err := tools.GetServices(ctx)
	if err != nil {
		return tools.ErrorFromErr(err), nil
	}

	res, err := call(svc.Facade, ctx, text)
	if err != nil {
		return tools.ErrorFromErr(err), nil
	}
	if !res.Success {
		svc.Log().Debug("GraphQL query failed", "error", *res.Error)
	}
	return tools.SuccessResult(res), nil
}
