package http

import (
	"context"
	"net/http"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/oauth/metadata"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	// Root endpoint - handles MCP requests when URL is configured without /mcp suffix
	s.mux.HandleFunc("/", s.handleRootRequest)

	// Health check endpoints
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)

	if s.opts.Collectors != nil {
		s.mux.Handle("/metrics", s.opts.Collectors.Handler())
	}

	// Where clients discover the token issuer when bearer JWTs are required
	if s.resource != nil {
		s.mux.HandleFunc(metadata.WellKnownPath, s.handleProtectedResource)
	}

	// MCP JSON-RPC endpoints: /mcp, /mcp/v1, /mcp/{profile}, /mcp/v1/{profile}
	mcp := s.requireAuth(http.HandlerFunc(s.handleMCPRequest))
	s.mux.Handle("/mcp", mcp)
	s.mux.Handle("/mcp/", s.profileRoute(mcp))
}

// profileRoute only lets through well-formed MCP paths naming a known profile.
func (s *Server) profileRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseMCPPath(r.URL.Path)
		if !p.ok {
			http.NotFound(w, r)
			return
		}
		if p.profile != "" {
			if err := tools.ValidateProfile(p.profile); err != nil {
				s.writeJSON(w, http.StatusNotFound, map[string]string{
					"error":             "unknown_profile",
					"error_description": err.Error(),
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.resource.ProtectedResourceMetadata(r))
}

// Health check handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{}
	if s.opts.Platform != nil {
		err := s.opts.Platform.Ping(ctx)
		if err != nil {
			s.logger.Warn("OpenCTI readiness check failed", "error", err)
		}
		checks["opencti"] = err == nil
	}
	if s.opts.Redis != nil {
		checks["redis"] = s.opts.Redis.Ping(ctx) == nil
	}

	status := "ready"
	for _, ready := range checks {
		if !ready {
			status = "not_ready"
			break
		}
	}

	statusCode := http.StatusOK
	if status != "ready" {
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRootRequest handles requests to the root path "/"
// This allows clients to connect when configured without the /mcp suffix
func (s *Server) handleRootRequest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.requireAuth(http.HandlerFunc(s.handleMCPRequest)).ServeHTTP(w, r)
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"type":    "xtm-mcp-server",
			"status":  "ok",
			"profile": s.getActiveProfile(r),
			"api_version": map[string]string{
				"current":   LatestAPIVersion,
				"supported": APIVersionV1,
			},
			"endpoints": map[string]string{
				"mcp":    "/mcp",
				"mcp_v1": "/mcp/" + APIVersionV1,
				"health": "/health",
				"ready":  "/ready",
			},
		})
	default:
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error": "method not allowed",
		})
	}
}
