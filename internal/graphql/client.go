package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/auth"
)

const (
	graphqlPath = "/graphql"
	schemaPath  = "/schema"

	// sdlVersionHint is appended to SDL fetch failures; /schema exists since 6.8.0.
	sdlVersionHint = "Failed to fetch data from URL. Are you sure your OpenCTI version >= 6.8.0 ?"

	maxResponseBytes = 64 << 20
)

// ClientConfig holds the resolved endpoint settings.
type ClientConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration // zero means the transport default (no timeout)
	UserAgent string
}

// Client talks to the OpenCTI GraphQL and SDL endpoints.
type Client struct {
	graphqlURL string
	schemaURL  string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Response is a raw GraphQL response. Data is kept undecoded so query
// results can be passed back to the caller untouched.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []Error         `json:"errors,omitempty"`
}

// Error is one entry of a GraphQL "errors" array.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// HasErrors reports whether the server returned a non-empty errors list.
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// ErrorMessage joins all error messages with "; ".
func (r *Response) ErrorMessage() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// GraphQLURL normalizes a base URL into the /graphql endpoint.
func GraphQLURL(base string) string {
	normalized := strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(normalized, graphqlPath) {
		return normalized
	}
	return normalized + graphqlPath
}

// SchemaURL normalizes a base URL into the /schema endpoint.
func SchemaURL(base string) string {
	normalized := strings.TrimRight(strings.TrimSpace(base), "/")
	normalized = strings.TrimSuffix(normalized, graphqlPath)
	return normalized + schemaPath
}

// NewClient creates a client for the given platform base URL.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.ParseRequestURI(GraphQLURL(cfg.BaseURL)); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "xtm-mcp"
	}

	return &Client{
		graphqlURL: GraphQLURL(cfg.BaseURL),
		schemaURL:  SchemaURL(cfg.BaseURL),
		token:      cfg.Token,
		userAgent:  ua,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Endpoint returns the GraphQL endpoint URL.
func (c *Client) Endpoint() string {
	return c.graphqlURL
}

// tokenFor prefers a request-scoped token over the configured one.
func (c *Client) tokenFor(ctx context.Context) string {
	if creds := auth.GetCredentials(ctx); creds != nil && creds.OpenCTIToken != "" {
		return creds.OpenCTIToken
	}
	return c.token
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if token := c.tokenFor(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// Do posts a GraphQL document and returns the decoded response. GraphQL
// level errors are returned inside the Response; only transport failures,
// non-2xx statuses without a GraphQL body and undecodable bodies produce an
// error, always a *RemoteError.
func (c *Client) Do(ctx context.Context, op, query string, variables map[string]interface{}) (*Response, error) {
	payload := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("GraphQL request failed", "op", op, "error", err)
		return nil, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug("GraphQL request completed",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration_ms", time.Since(start).Milliseconds())

	var out Response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.HasErrors() {
			return &out, nil
		}
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", truncate(string(raw), 200))}
	}
	if decodeErr != nil {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}
	return &out, nil
}

// FetchSDL downloads the SDL document served at <base>/schema. The
// endpoint answers with a JSON object {"schema": "<sdl>"}.
func (c *Client) FetchSDL(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.schemaURL, nil)
	if err != nil {
		return "", &RemoteError{Op: "sdl", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RemoteError{Op: "sdl", Err: err, Hint: sdlVersionHint}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RemoteError{Op: "sdl", StatusCode: resp.StatusCode, Hint: sdlVersionHint}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &RemoteError{Op: "sdl", StatusCode: resp.StatusCode, Err: err}
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", NewSchemaError("/schema did not return JSON object with 'schema' string", err)
	}
	sdl, ok := body["schema"].(string)
	if !ok {
		return "", NewSchemaError("/schema did not return JSON object with 'schema' string", nil)
	}

	c.logger.Debug("Fetched SDL document", "bytes", len(sdl))
	return sdl, nil
}

// Ping runs the smallest possible query to check the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Do(ctx, "ping", "query { __typename }", nil)
	if err != nil {
		return err
	}
	if resp.HasErrors() {
		return &RemoteError{Op: "ping", Err: errors.New(resp.ErrorMessage())}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
