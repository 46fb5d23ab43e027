package metrics

import "context"

// contextKey is an unexported type for context keys to prevent collisions
type contextKey string

const (
	metricsManagerKey contextKey = "metrics_manager"
	collectorsKey     contextKey = "metrics_collectors"
)

// WithManager adds a metrics Manager to the context
func WithManager(ctx context.Context, mgr *Manager) context.Context {
	return context.WithValue(ctx, metricsManagerKey, mgr)
}

// GetManager retrieves the metrics Manager from the context
// Returns nil if no manager is found
func GetManager(ctx context.Context) *Manager {
	if mgr, ok := ctx.Value(metricsManagerKey).(*Manager); ok {
		return mgr
	}
	return nil
}

// WithCollectors adds the Prometheus collectors to the context
func WithCollectors(ctx context.Context, c *Collectors) context.Context {
	return context.WithValue(ctx, collectorsKey, c)
}

// GetCollectors retrieves the Prometheus collectors from the context.
// Returns nil if none are attached; all Collectors methods accept a nil receiver.
func GetCollectors(ctx context.Context) *Collectors {
	if c, ok := ctx.Value(collectorsKey).(*Collectors); ok {
		return c
	}
	return nil
}
