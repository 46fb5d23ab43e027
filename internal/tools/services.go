package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/schema"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const servicesKey contextKey = "tool-services"

// ErrNoServices is returned when a handler runs without injected services.
var ErrNoServices = errors.New("schema services are not configured")

// Services are the collaborators every tool handler works against.
type Services struct {
	Source   *schema.Source
	Facade   *graphql.QueryFacade
	Executor graphql.Executor
	// Mode is the snapshot used by the relationship tools.
	Mode   schema.Mode
	Logger *slog.Logger
}

// WithServices adds Services to the context
func WithServices(ctx context.Context, svc *Services) context.Context {
	return context.WithValue(ctx, servicesKey, svc)
}

// GetServices retrieves Services from the context
func GetServices(ctx context.Context) (*Services, error) {
	svc, ok := ctx.Value(servicesKey).(*Services)
	if !ok || svc == nil {
		return nil, ErrNoServices
	}
	return svc, nil
}

// RelationshipMode returns the configured mode, defaulting to introspection.
func (s *Services) RelationshipMode() schema.Mode {
	if s.Mode == "" {
		return schema.ModeIntrospection
	}
	return s.Mode
}

// Log returns the services logger or the default logger.
func (s *Services) Log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
