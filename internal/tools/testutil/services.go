package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewServices wires tool services against the fake endpoint.
func NewServices(t testing.TB, fake *FakeOpenCTI) *tools.Services {
	t.Helper()
	client, err := graphql.NewClient(graphql.ClientConfig{BaseURL: fake.URL(), Token: "test-token"}, DiscardLogger())
	require.NoError(t, err)

	return &tools.Services{
		Source:   schema.NewSource(client, schema.SourceOptions{Logger: DiscardLogger()}),
		Facade:   graphql.NewQueryFacade(client),
		Executor: client,
		Mode:     schema.ModeIntrospection,
		Logger:   DiscardLogger(),
	}
}

// ContextWithFake returns a context carrying services for a fresh fake
// serving sdl, plus the fake itself.
func ContextWithFake(t testing.TB, sdl string) (context.Context, *FakeOpenCTI) {
	t.Helper()
	fake := NewFakeOpenCTI(t, sdl)
	return tools.WithServices(context.Background(), NewServices(t, fake)), fake
}

// CallTool invokes a registered tool and returns its text and error flag.
func CallTool(t testing.TB, ctx context.Context, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	reg, ok := tools.GetTool(name)
	require.True(t, ok, "tool %s is not registered", name)

	result, err := tools.Invoke(ctx, reg, args)
	require.NoError(t, err)
	require.NotNil(t, result)
	return ResultText(t, result), result.IsError
}

// ResultText returns the text of the first content block.
func ResultText(t testing.TB, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}
