package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/FiligranHQ/xtm-mcp/internal/config"
)

const (
	serverName    = "OpenCTI MCP Server"
	serverVersion = "1.0.0"
)

// transport is the mode specific half of the server.
type transport interface {
	Serve(ctx context.Context) error
	Close() error
}

// Server wraps the MCP transport with the shared runtime
type Server struct {
	config    *config.Config
	runtime   *Runtime
	transport transport
	logger    *slog.Logger
}

// New creates a new MCP server instance
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		}))
	}

	rt, err := NewRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		runtime: rt,
		logger:  logger,
	}

	switch cfg.Mode {
	case "stdio":
		s.transport = NewSTDIOServer(cfg, rt, logger)
	case "http":
		httpSrv, err := NewHTTPServer(cfg, rt, logger)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		s.transport = httpSrv
	default:
		_ = rt.Close()
		return nil, fmt.Errorf("unknown server mode: %s", cfg.Mode)
	}

	logger.Info("OpenCTI MCP server initialized",
		"profile", cfg.Profile,
		"mode", cfg.Mode,
		"schema_mode", cfg.SchemaMode,
		"opencti_url", cfg.OpenCTIURL,
		"ai_enabled", rt.ToolOptions().AIEnabled)

	return s, nil
}

// Serve starts the server in the configured mode
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting server", "mode", s.config.Mode)
	return s.transport.Serve(ctx)
}

// GetLogger returns the logger
func (s *Server) GetLogger() *slog.Logger {
	return s.logger
}

// Close gracefully shuts down the server and releases resources
func (s *Server) Close() error {
	s.logger.Info("Shutting down server, cleaning up resources...")

	err := s.transport.Close()
	if rtErr := s.runtime.Close(); err == nil {
		err = rtErr
	}

	s.logger.Info("Server shutdown complete")
	return err
}
