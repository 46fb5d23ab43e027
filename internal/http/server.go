package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/auth"
	"github.com/FiligranHQ/xtm-mcp/internal/config"
	"github.com/FiligranHQ/xtm-mcp/internal/metrics"
	"github.com/FiligranHQ/xtm-mcp/internal/oauth/metadata"
	"github.com/FiligranHQ/xtm-mcp/internal/ratelimit"
	"github.com/FiligranHQ/xtm-mcp/internal/redis"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

const (
	// HeaderMCPTools is the HTTP header for specifying a CSV list of tools
	HeaderMCPTools = "X-MCP-Tools"

	// HeaderOpenCTIToken carries a per-request OpenCTI API token
	HeaderOpenCTIToken = "X-OpenCTI-Token"

	serverName    = "OpenCTI MCP Server"
	serverVersion = "1.0.0"
)

// Pinger reports whether the OpenCTI platform answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the collaborators shared with the stdio transport.
type Options struct {
	// Inject adds tool services and managers to a request context.
	Inject func(ctx context.Context) context.Context
	// Redis is optional; without it rate limiting stays in process.
	Redis      *redis.Client
	Collectors *metrics.Collectors
	Platform   Pinger
	Tools      tools.Options
}

// Server represents the HTTP server for MCP streamable HTTP mode
type Server struct {
	config      *config.Config
	logger      *slog.Logger
	mux         *http.ServeMux
	server      *http.Server
	opts        Options
	rateLimiter ratelimit.Allower
	limits      map[string]ratelimit.Config
	jwtConfig   *auth.JWTValidationConfig // nil = no inbound authentication
	resource    *metadata.Provider        // set with jwtConfig
}

// New creates a new HTTP server instance using standard library
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Inject == nil {
		opts.Inject = func(ctx context.Context) context.Context { return ctx }
	}

	s := &Server{
		config: cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		opts:   opts,
	}

	if cfg.AuthEnabled() {
		jwtConfig, err := auth.NewJWTValidationConfig(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to configure JWT validation: %w", err)
		}
		s.jwtConfig = jwtConfig
		s.resource = metadata.NewProvider(cfg.PublicURL, cfg.JWTIssuer)
		logger.Info("Bearer JWT authentication enabled", "issuer", cfg.JWTIssuer, "audience", cfg.JWTAudience)
	} else {
		logger.Warn("Bearer JWT authentication disabled, any client reaching the port can call tools")
	}

	if cfg.RateLimitRequests > 0 {
		s.rateLimiter = ratelimit.New(opts.Redis, logger)
		s.limits = map[string]ratelimit.Config{
			"mcp_request": {MaxRequests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
			"default":     ratelimit.DefaultConfigs["default"],
		}
		logger.Info("Rate limiting enabled",
			"requests", cfg.RateLimitRequests,
			"window", cfg.RateLimitWindow,
			"shared", opts.Redis != nil)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           s.withMiddleware(s.mux),
		ReadTimeout:       5 * time.Minute, // Query generation can take several model round trips
		WriteTimeout:      5 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	if cfg.EnableTLS {
		s.server.TLSConfig = s.createTLSConfig()
		logger.Info("TLS/HTTPS enabled for HTTP server")
	} else if os.Getenv("K_SERVICE") == "" {
		// Cloud Run terminates TLS in front of the container
		logger.Warn("TLS/HTTPS disabled, enable it with ENABLE_TLS=true outside of a TLS terminating proxy")
	}

	logger.Info("HTTP server initialized", "port", cfg.HTTPPort, "tls_enabled", cfg.EnableTLS)

	return s, nil
}

// Handler returns the complete middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// getActiveProfile determines the active profile for a request. A profile
// named in the URL path wins over the configured one.
func (s *Server) getActiveProfile(r *http.Request) string {
	if p := parseMCPPath(r.URL.Path); p.profile != "" {
		return p.profile
	}
	if s.config.Profile == "" {
		return "all"
	}
	return s.config.Profile
}

// parseToolsFromHeader extracts and parses the X-MCP-Tools header
// Returns nil slice if header not present or empty after parsing
func parseToolsFromHeader(r *http.Request) []string {
	headerValue := r.Header.Get(HeaderMCPTools)
	if headerValue == "" {
		return nil
	}

	var toolsList []string
	for _, part := range strings.Split(headerValue, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			toolsList = append(toolsList, trimmed)
		}
	}
	return toolsList
}

// getToolsForRequest determines which tools should be available for this request
func (s *Server) getToolsForRequest(r *http.Request) ([]*tools.ToolRegistration, error) {
	profile := s.getActiveProfile(r)

	// The header narrows the full tool set only; a named profile is already a selection.
	if profile == "all" {
		if headerTools := parseToolsFromHeader(r); headerTools != nil {
			if err := tools.ValidateToolNames(headerTools); err != nil {
				return nil, fmt.Errorf("invalid tools in %s header: %w", HeaderMCPTools, err)
			}
			s.logger.Debug("Using tools from header", "count", len(headerTools), "tools", headerTools)
			return tools.ResolveNamedTools(headerTools, s.opts.Tools), nil
		}
	}

	return tools.ResolveTools(profile, s.opts.Tools), nil
}

// createTLSConfig creates a secure TLS configuration
func (s *Server) createTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

// Serve starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	protocol := "HTTP"
	if s.config.EnableTLS {
		protocol = "HTTPS"
	}
	s.logger.Info(fmt.Sprintf("Starting %s server", protocol), "port", s.config.HTTPPort)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		s.logger.Info("HTTP server stopped gracefully")
		return nil

	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Close stops accepting connections immediately. Shared clients are owned
// by the caller.
func (s *Server) Close() error {
	if err := s.server.Close(); err != nil {
		return fmt.Errorf("failed to close HTTP server: %w", err)
	}
	return nil
}

// writeJSON writes a JSON response using ResponseWriter
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	rw := NewResponseWriter(w, s.logger)
	rw.WriteJSON(status, data)
}
