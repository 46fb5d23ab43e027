package gcs

import "context"

type managerKey struct{}

// WithGCSManager attaches the result offload manager to ctx. Tool results
// are only offloaded when one is present.
func WithGCSManager(ctx context.Context, mgr *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, mgr)
}

// GetGCSManager returns the manager attached to ctx, or nil.
func GetGCSManager(ctx context.Context) *Manager {
	mgr, _ := ctx.Value(managerKey{}).(*Manager)
	return mgr
}
