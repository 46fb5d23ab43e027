package graphql

import (
	"context"
	"encoding/json"
	"strings"
)

// Result is the uniform outcome of Execute and Validate.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *string         `json:"error,omitempty"`
}

// Executor runs a GraphQL document against the live endpoint.
type Executor interface {
	Do(ctx context.Context, op, query string, variables map[string]interface{}) (*Response, error)
}

// QueryFacade executes caller-supplied queries. Read-only: it never adds
// anything beyond the "query" keyword to the caller's text.
type QueryFacade struct {
	exec Executor
}

// NewQueryFacade wraps an executor, normally a *Client.
func NewQueryFacade(exec Executor) *QueryFacade {
	return &QueryFacade{exec: exec}
}

// NormalizeQuery prefixes the "query" keyword when the trimmed text does not
// already start with it. Bare selection sets are the common case.
func NormalizeQuery(text string) string {
	if strings.HasPrefix(strings.TrimSpace(text), "query") {
		return text
	}
	return "query " + text
}

// Execute runs the query and returns the raw data on success.
func (f *QueryFacade) Execute(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, NewInvalidArgument("query", "query parameter is missing or empty")
	}

	resp, err := f.exec.Do(ctx, "query", NormalizeQuery(text), nil)
	if err != nil {
		return failure(err.Error()), nil
	}
	if resp.HasErrors() {
		return failure(resp.ErrorMessage()), nil
	}

	data := resp.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Result{Success: true, Data: data}, nil
}

// Validate runs the query and only reports whether it errored.
func (f *QueryFacade) Validate(ctx context.Context, text string) (Result, error) {
	res, err := f.Execute(ctx, text)
	if err != nil {
		return Result{}, err
	}
	if !res.Success {
		return res, nil
	}
	empty := ""
	return Result{Success: true, Error: &empty}, nil
}

func failure(msg string) Result {
	return Result{Success: false, Error: &msg}
}
