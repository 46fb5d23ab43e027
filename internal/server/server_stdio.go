package server

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/FiligranHQ/xtm-mcp/internal/config"
	"github.com/FiligranHQ/xtm-mcp/internal/resources"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

// STDIOServer handles STDIO mode MCP server
type STDIOServer struct {
	mcpServer *server.MCPServer
	runtime   *Runtime
	tools     []string
	logger    *slog.Logger
}

// NewSTDIOServer creates a new STDIO mode server serving the configured
// profile. The platform token comes from the configuration.
func NewSTDIOServer(cfg *config.Config, rt *Runtime, logger *slog.Logger) *STDIOServer {
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	names := tools.AddToolsToServer(mcpServer, cfg.Profile, rt.ToolOptions())
	resources.AddResourcesToServer(mcpServer, names)
	logger.Info("Registered tools", "profile", cfg.Profile, "count", len(names))

	return &STDIOServer{
		mcpServer: mcpServer,
		runtime:   rt,
		tools:     names,
		logger:    logger,
	}
}

// Tools returns the names of the registered tools.
func (s *STDIOServer) Tools() []string {
	return s.tools
}

// Serve reads JSON-RPC messages from stdin until ctx is done or stdin closes
func (s *STDIOServer) Serve(ctx context.Context) error {
	s.logger.Info("Serving via STDIO")

	stdio := server.NewStdioServer(s.mcpServer)
	// Every request sees the shared services, caches and backends
	stdio.SetContextFunc(s.runtime.Inject)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Close has nothing to release; the runtime is owned by the caller.
func (s *STDIOServer) Close() error {
	s.logger.Info("STDIO server stopped")
	return nil
}
