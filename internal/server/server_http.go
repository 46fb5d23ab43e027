package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FiligranHQ/xtm-mcp/internal/config"
	httpserver "github.com/FiligranHQ/xtm-mcp/internal/http"
)

// HTTPServerWrapper handles HTTP mode MCP server
type HTTPServerWrapper struct {
	httpServer *httpserver.Server
	config     *config.Config
	logger     *slog.Logger
}

// NewHTTPServer creates a new HTTP mode server backed by the runtime
func NewHTTPServer(cfg *config.Config, rt *Runtime, logger *slog.Logger) (*HTTPServerWrapper, error) {
	opts := httpserver.Options{
		Inject:     rt.Inject,
		Redis:      rt.redis,
		Collectors: rt.collectors,
		Platform:   rt.client,
		Tools:      rt.ToolOptions(),
	}

	httpSrv, err := httpserver.New(cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("HTTP server initialized",
		"profile", cfg.Profile,
		"port", cfg.HTTPPort,
		"tls", cfg.EnableTLS,
		"jwt_auth", cfg.AuthEnabled())

	return &HTTPServerWrapper{
		httpServer: httpSrv,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Serve starts the HTTP server
func (s *HTTPServerWrapper) Serve(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "port", s.config.HTTPPort)
	return s.httpServer.Serve(ctx)
}

// Close stops the HTTP listener
func (s *HTTPServerWrapper) Close() error {
	if err := s.httpServer.Close(); err != nil {
		s.logger.Error("Failed to close HTTP server", "error", err)
		return err
	}
	return nil
}
