package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FiligranHQ/xtm-mcp/internal/auth"
	"github.com/FiligranHQ/xtm-mcp/internal/metrics"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	defaultMaxBodyBytes = 1 << 20
	maxRequestIDLength  = 128
)

// withMiddleware wraps the handler with middleware chain
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	// Chain middleware (the last wrap runs first)
	handler := next

	handler = VersionMiddleware(handler)           // Reject unsupported API versions
	handler = s.rateLimitMiddleware(handler)       // Rate limiting per client and endpoint
	handler = s.bodySizeLimitMiddleware(handler)   // Prevent large request bodies
	handler = s.securityHeadersMiddleware(handler) // Security headers
	handler = s.corsMiddleware(handler)            // CORS handling

	handler = MetricsMiddleware(s.opts.Collectors)(handler) // Prometheus request metrics
	handler = RequestLogger(s.logger)(handler)              // Structured logging with request ID
	handler = PanicRecovery(s.logger)(handler)              // Panic recovery
	handler = RequestID()(handler)                          // Outermost so every layer sees the ID

	return handler
}

// requireAuth resolves the caller credentials of an MCP request. With JWT
// validation configured the bearer token must be a valid JWT; otherwise a
// bearer token is taken as the OpenCTI token. X-OpenCTI-Token always wins.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := &auth.Credentials{}
		bearer, hasBearer := bearerToken(r)

		if s.jwtConfig != nil {
			if !hasBearer {
				s.writeUnauthorized(w, r, "Missing Authorization header")
				return
			}
			claims, err := auth.ValidateJWTWithConfig(bearer, s.jwtConfig)
			if err != nil {
				s.logger.Info("Bearer JWT rejected",
					"request_id", auth.GetRequestID(r.Context()),
					"token", auth.SanitizeForLog(bearer, 8),
					"error", err)
				s.writeUnauthorized(w, r, "Invalid token")
				return
			}
			creds.Subject = auth.SubjectFromClaims(claims)
		}

		token := strings.TrimSpace(r.Header.Get(HeaderOpenCTIToken))
		if token == "" && s.jwtConfig == nil && hasBearer {
			token = bearer
		}

		switch {
		case token != "":
			if err := auth.ValidateToken(token); err != nil {
				s.writeUnauthorized(w, r, err.Error())
				return
			}
			creds.OpenCTIToken = token
		case s.config.OpenCTIToken == "":
			s.writeUnauthorized(w, r, fmt.Sprintf("No OpenCTI token: send %s or configure OPENCTI_TOKEN", HeaderOpenCTIToken))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithCredentials(r.Context(), creds)))
	})
}

// bearerToken extracts the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, r *http.Request, description string) {
	challenge := `Bearer realm="xtm-mcp"`
	if s.resource != nil {
		challenge += fmt.Sprintf(`, resource_metadata="%s"`, s.resource.MetadataURL(r))
	}
	w.Header().Set("WWW-Authenticate", challenge)
	s.writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "unauthorized",
		"error_description": description,
	})
}

// bodySizeLimitMiddleware limits request body size to prevent memory exhaustion
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds security headers to all responses
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// Only JSON is served, so nothing may be loaded or framed
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if s.config.EnableTLS {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := s.config.CORSAllowedOrigins
		origin := r.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigins[0])
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+HeaderMCPTools+", "+HeaderOpenCTIToken+", Mcp-Session-Id")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware implements rate limiting for endpoints
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		endpointType := getEndpointType(r)
		if endpointType == "" {
			next.ServeHTTP(w, r)
			return
		}
		cfg, ok := s.limits[endpointType]
		if !ok {
			cfg = s.limits["default"]
		}

		rateLimitKey := getClientIP(r) + ":" + endpointType
		allowed, err := s.rateLimiter.Allow(r.Context(), rateLimitKey, cfg)
		if err != nil {
			// Fail open
			s.logger.Warn("Rate limit check error", "error", err)
			allowed = true
		}

		if !allowed {
			s.opts.Collectors.ObserveRateLimited()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
			s.writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Please try again later.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getEndpointType determines the rate limit category of a request. Probe
// endpoints return "" and are never limited.
func getEndpointType(r *http.Request) string {
	switch {
	case r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics":
		return ""
	case parseMCPPath(r.URL.Path).ok:
		return "mcp_request"
	case r.URL.Path == "/" && r.Method == http.MethodPost:
		return "mcp_request"
	default:
		return "default"
	}
}

// routeLabel maps a path onto a bounded set of metric labels
func routeLabel(path string) string {
	switch path {
	case "/", "/health", "/ready", "/metrics":
		return path
	}
	if parseMCPPath(path).ok {
		return "/mcp"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for proxies/load balancers)
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return r.RemoteAddr
}

// RequestLogger returns middleware that logs all HTTP requests with structured fields
// including request ID, duration, status code, method, path, and user agent
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request completed",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_agent", r.UserAgent(),
				"remote_addr", getClientIP(r))
		})
	}
}

// PanicRecovery returns middleware that recovers from panics and logs them
// This prevents the entire server from crashing due to a panic in a handler
func PanicRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered in HTTP handler",
						"error", err,
						"request_id", GetRequestID(r.Context()),
						"method", r.Method,
						"path", r.URL.Path,
						"remote_addr", getClientIP(r))

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal_server_error","error_description":"An internal error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RequestID returns middleware that adds a unique request ID to each request
// The request ID is either extracted from the X-Request-ID header (if present
// and reasonable) or generated as a new UUID. It's added to both the request
// context and the response headers for traceability
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if !validRequestID(requestID) {
				requestID = uuid.NewString()
			}

			ctx := auth.WithRequestID(r.Context(), requestID)
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validRequestID accepts short printable IDs so they are safe to log and echo
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// MetricsMiddleware returns middleware that records every request in the
// Prometheus collectors. A nil collector set records nothing.
func MetricsMiddleware(collectors *metrics.Collectors) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			collectors.ObserveHTTPRequest(r.Method, routeLabel(r.URL.Path), wrapped.statusCode, time.Since(start))
		})
	}
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	return auth.GetRequestID(ctx)
}
