package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

// maxContextFields bounds how many root query fields go into the prompt.
const maxContextFields = 400

func init() {
	RegisterGenerateGraphQLQuery()
}

// RegisterGenerateGraphQLQuery registers the generate_graphql_query tool
func RegisterGenerateGraphQLQuery() {
	tools.RegisterTool(&tools.ToolRegistration{
		Name:        "generate_graphql_query",
		Description: "Generate an OpenCTI GraphQL query from a natural language description using AI",
		Profile:     "ai_powered",
		RequiresAI:  true,
		Schema: mcp.NewTool("generate_graphql_query",
			mcp.WithDescription("Generate a read-only OpenCTI GraphQL query from a natural language description using Google Gemini. The query is checked against OpenCTI before it is returned."),
			mcp.WithString("description",
				mcp.Required(),
				mcp.Description("What the query should return (e.g. 'the 10 most recent malwares with their aliases')")),
		),
		Handler: func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
			description := tools.GetString(args, "description")
			if description == "" {
				return tools.ErrorResult("description is required"), nil
			}

			model, err := GetModel(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}
			svc, err := tools.GetServices(ctx)
			if err != nil {
				return tools.ErrorFromErr(err), nil
			}
			logger := svc.Log()

			startTime := time.Now()
			prompt := strings.ReplaceAll(getPromptTemplate("gen_graphql"), "{schema_context}", schemaContext(ctx, svc))

			maxIterations := GetRetryCount()
			messages := []Message{{Role: "user", Text: description}}
			var lastError string

			for attempt := 1; attempt <= maxIterations; attempt++ {
				response, err := model.Respond(ctx, messages, prompt)
				if err != nil {
					return tools.ErrorResultf("failed to get model response: %v", err), nil
				}

				query, explanation := splitResponse(response)
				problem := validateQuery(ctx, svc.Facade, query)
				if problem == "" {
					logger.Info("GraphQL query generated",
						"attempts", attempt,
						"duration_ms", time.Since(startTime).Milliseconds())
					return tools.SuccessResult(map[string]interface{}{
						"query":       query,
						"explanation": explanation,
						"attempts":    attempt,
					}), nil
				}

				lastError = problem
				logger.Debug("Generated query rejected", "attempt", attempt, "max", maxIterations, "error", problem)

				messages = append(messages,
					Message{Role: "model", Text: response},
					Message{Role: "user", Text: fmt.Sprintf("The previous query generated was invalid with this error: %s\nPlease fix the query and try again.", problem)},
				)
			}

			logger.Warn("GraphQL query generation failed",
				"attempts", maxIterations,
				"duration_ms", time.Since(startTime).Milliseconds(),
				"error", lastError)
			return tools.ErrorResultf("failed to generate a valid query after %d attempts, last error: %s", maxIterations, lastError), nil
		},
	})
}

// schemaContext summarizes the root query fields and entity types for the
// prompt. A schema that cannot be fetched leaves the model to extrapolate.
func schemaContext(ctx context.Context, svc *tools.Services) string {
	g, err := svc.Source.Fetch(ctx, schema.ModeIntrospection)
	if err != nil {
		svc.Log().Warn("Failed to fetch schema for query generation", "error", err)
		return "No schema available - extrapolate with best effort."
	}

	var b strings.Builder
	if fields, err := g.GetQueryFields(); err == nil {
		b.WriteString("Root query fields:\n")
		for i, f := range fields {
			if i == maxContextFields {
				fmt.Fprintf(&b, "... and %d more\n", len(fields)-maxContextFields)
				break
			}
			args := make([]string, len(f.Args))
			for j, a := range f.Args {
				args[j] = a.Name + ": " + a.Type.String()
			}
			if len(args) > 0 {
				fmt.Fprintf(&b, "%s(%s): %s\n", f.Name, strings.Join(args, ", "), f.Type.String())
			} else {
				fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Type.String())
			}
		}
	}

	if names := g.Mapping().EntityNames(); len(names) > 0 {
		b.WriteString("\nEntity types: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
