package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/FiligranHQ/xtm-mcp/internal/config"
	"github.com/FiligranHQ/xtm-mcp/internal/crypto"
	"github.com/FiligranHQ/xtm-mcp/internal/gcs"
	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/metrics"
	"github.com/FiligranHQ/xtm-mcp/internal/redis"
	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
	"github.com/FiligranHQ/xtm-mcp/internal/tools/ai"
)

const userAgent = "xtm-mcp/" + serverVersion

// Runtime holds the collaborators shared by both transports and injects
// them into every tool call context.
type Runtime struct {
	config         *config.Config
	client         *graphql.Client
	redis          *redis.Client
	services       *tools.Services
	collectors     *metrics.Collectors
	metricsManager *metrics.Manager
	gcsManager     *gcs.Manager
	model          ai.Model
	logger         *slog.Logger
}

// NewRuntime builds the OpenCTI client, schema cache and optional backends.
// Redis and the language model are only created when configured.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	mode, err := schema.ParseMode(cfg.SchemaMode)
	if err != nil {
		return nil, err
	}

	client, err := graphql.NewClient(graphql.ClientConfig{
		BaseURL:   cfg.OpenCTIURL,
		Token:     cfg.OpenCTIToken,
		Timeout:   cfg.HTTPTimeout,
		UserAgent: userAgent,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenCTI client: %w", err)
	}

	rt := &Runtime{
		config:     cfg,
		client:     client,
		collectors: metrics.NewCollectors(),
		logger:     logger,
	}

	sourceOpts := schema.SourceOptions{
		TTL:      cfg.SchemaCacheTTL,
		StoreKey: storeKey(cfg.OpenCTIURL),
		Observer: rt.collectors,
		Logger:   logger,
	}

	if cfg.RedisURL != "" {
		rt.redis, err = redis.New(&redis.Config{URL: cfg.RedisURL}, logger)
		if err != nil {
			return nil, err
		}
		enc, err := crypto.NewPayloadEncryption(cfg.EncryptionKey, logger)
		if err != nil {
			_ = rt.redis.Close()
			return nil, err
		}
		sourceOpts.Store = redis.NewPayloadStore(rt.redis, enc, cfg.SchemaCacheTTL, logger)
	}

	rt.services = &tools.Services{
		Source:   schema.NewSource(client, sourceOpts),
		Facade:   graphql.NewQueryFacade(client),
		Executor: client,
		Mode:     mode,
		Logger:   logger,
	}

	rt.metricsManager, err = metrics.NewManager(ctx, metrics.LoadConfig(), logger)
	if err != nil {
		logger.Warn("Failed to initialize metrics manager", "error", err)
		rt.metricsManager = nil
	}

	gcsConfig := gcs.LoadConfig()
	rt.gcsManager, err = gcs.NewManager(ctx, gcsConfig, logger)
	if err != nil {
		logger.Warn("Failed to initialize GCS manager, large results will be returned inline", "error", err)
		rt.gcsManager = nil
	} else if gcsConfig.OffloadEnabled {
		logger.Info("Large result offload enabled",
			"bucket", gcsConfig.BucketName,
			"threshold", gcsConfig.TokenThreshold)
	}

	if cfg.AIEnabled() {
		model, err := ai.NewGeminiModel(ctx, cfg.GoogleAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Warn("Failed to initialize language model, AI tools disabled", "error", err)
		} else {
			rt.model = model
		}
	}

	return rt, nil
}

// storeKey scopes shared cache entries to one platform.
func storeKey(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return baseURL
}

// Inject adds the runtime collaborators to a request context.
func (rt *Runtime) Inject(ctx context.Context) context.Context {
	ctx = tools.WithServices(ctx, rt.services)
	ctx = metrics.WithCollectors(ctx, rt.collectors)
	if rt.metricsManager != nil {
		ctx = metrics.WithManager(ctx, rt.metricsManager)
	}
	if rt.gcsManager != nil {
		ctx = gcs.WithGCSManager(ctx, rt.gcsManager)
	}
	if rt.model != nil {
		ctx = ai.WithModel(ctx, rt.model)
	}
	return ctx
}

// ToolOptions reports which optional tool families can be served.
func (rt *Runtime) ToolOptions() tools.Options {
	return tools.Options{AIEnabled: rt.model != nil}
}

// Close releases every backend.
func (rt *Runtime) Close() error {
	if rt.gcsManager != nil {
		if err := rt.gcsManager.Close(); err != nil {
			rt.logger.Warn("Failed to close GCS manager", "error", err)
		}
	}
	if rt.metricsManager != nil {
		if err := rt.metricsManager.Close(); err != nil {
			rt.logger.Warn("Failed to close metrics manager", "error", err)
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("Failed to close Redis client", "error", err)
			return err
		}
	}
	return nil
}
