package testutil

import (
	"context"
	"sync/atomic"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// MockExecutor is a graphql.Executor whose behavior is set per test via
// DoFunc. Without DoFunc every call returns {"data":null}.
type MockExecutor struct {
	DoFunc func(ctx context.Context, op, query string, variables map[string]interface{}) (*graphql.Response, error)

	Calls atomic.Int64
}

// Do implements graphql.Executor
func (m *MockExecutor) Do(ctx context.Context, op, query string, variables map[string]interface{}) (*graphql.Response, error) {
	m.Calls.Add(1)
	if m.DoFunc != nil {
		return m.DoFunc(ctx, op, query, variables)
	}
	return &graphql.Response{}, nil
}

var _ graphql.Executor = (*MockExecutor)(nil)
