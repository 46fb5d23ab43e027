package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

// Config holds all configuration for the MCP server
type Config struct {
	// Server configuration
	Mode     string // "stdio" or "http"
	Profile  string // Profile to expose: "schema", "all", etc.
	LogLevel string // "debug", "info", "warn", "error"

	// OpenCTI endpoint
	OpenCTIURL   string
	OpenCTIToken string
	HTTPTimeout  time.Duration // zero leaves requests without a client-side timeout

	// Schema cache
	SchemaMode     string        // snapshot used by the relationship tools
	SchemaCacheTTL time.Duration // zero keeps snapshots for the process lifetime
	EncryptionKey  string        // base64 AES-256 key for schema payloads stored in Redis

	// HTTP server configuration
	HTTPPort           int
	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	// TLS/HTTPS configuration
	EnableTLS bool
	TLSCert   string
	TLSKey    string

	// Redis configuration (shared schema cache and rate limiting)
	RedisURL string

	// Inbound authentication for HTTP mode; disabled when no secret or key is set
	JWTSecret        string
	JWTIssuer        string
	JWTAudience      string
	JWTPublicKeyFile string
	// PublicURL is this server's externally visible base URL, advertised in
	// the protected resource metadata
	PublicURL string

	// Rate limiting for HTTP mode; zero requests disables it
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// AI-powered tools
	GoogleAPIKey string
	GeminiModel  string
}

// Load loads configuration from environment variables
// Priority: flags (see AddFlags) > environment variables > defaults
func Load() *Config {
	return &Config{
		Mode:     getEnv("MCP_MODE", "stdio"),
		Profile:  getEnv("MCP_PROFILE", "all"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		OpenCTIURL:   strings.TrimSpace(getEnv("OPENCTI_URL", "")),
		OpenCTIToken: strings.TrimSpace(getEnv("OPENCTI_TOKEN", "")),
		HTTPTimeout:  getDurationEnv("OPENCTI_HTTP_TIMEOUT", 0),

		SchemaMode:     getEnv("SCHEMA_MODE", string(schema.ModeIntrospection)),
		SchemaCacheTTL: getDurationEnv("SCHEMA_CACHE_TTL", 0),
		EncryptionKey:  getEnv("SCHEMA_CACHE_ENCRYPTION_KEY", ""),

		HTTPPort:           getIntEnv("PORT", 8080),
		CORSAllowedOrigins: getSliceEnv("CORS_ALLOWED_ORIGINS", []string{}),
		MaxBodyBytes:       int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1<<20)),

		EnableTLS: getBoolEnv("ENABLE_TLS", false),
		TLSCert:   getEnv("TLS_CERT_FILE", ""),
		TLSKey:    getEnv("TLS_KEY_FILE", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		JWTSecret:        getEnv("MCP_AUTH_JWT_SECRET", ""),
		JWTIssuer:        getEnv("MCP_AUTH_JWT_ISSUER", ""),
		JWTAudience:      getEnv("MCP_AUTH_JWT_AUDIENCE", ""),
		JWTPublicKeyFile: getEnv("MCP_AUTH_JWT_PUBLIC_KEY_FILE", ""),
		PublicURL:        strings.TrimSuffix(getEnv("MCP_SERVER_URL", ""), "/"),

		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		GoogleAPIKey: getEnv("GOOGLE_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", ""),
	}
}

// AddFlags registers the command line overrides on flagSet. Flag defaults
// are the values already loaded from the environment.
func (c *Config) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.OpenCTIURL, "url", c.OpenCTIURL, "OpenCTI base URL (env OPENCTI_URL)")
	flagSet.StringVar(&c.OpenCTIToken, "token", c.OpenCTIToken, "OpenCTI API token (env OPENCTI_TOKEN)")
	flagSet.StringVar(&c.Mode, "mode", c.Mode, "transport: stdio or http (env MCP_MODE)")
	flagSet.StringVar(&c.Profile, "profile", c.Profile, "tool profile to serve (env MCP_PROFILE)")
	flagSet.IntVar(&c.HTTPPort, "port", c.HTTPPort, "HTTP listen port (env PORT)")
	flagSet.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error (env LOG_LEVEL)")
	flagSet.StringVar(&c.SchemaMode, "schema-mode", c.SchemaMode, "schema used for relationships: introspection or sdl (env SCHEMA_MODE)")
}

// AIEnabled reports whether the AI-powered tools can be served.
func (c *Config) AIEnabled() bool {
	return c.GoogleAPIKey != ""
}

// AuthEnabled reports whether inbound HTTP requests must carry a JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.JWTPublicKeyFile != ""
}

// SlogLevel converts LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Mode != "stdio" && c.Mode != "http" {
		return fmt.Errorf("invalid MCP_MODE: %s (must be 'stdio' or 'http')", c.Mode)
	}

	if err := tools.ValidateProfile(c.Profile); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.OpenCTIURL == "" {
		return fmt.Errorf("OPENCTI_URL is required")
	}
	u, err := url.Parse(c.OpenCTIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid OPENCTI_URL: %s (must be an http or https URL)", c.OpenCTIURL)
	}

	// In HTTP mode each request may bring its own token.
	if c.Mode == "stdio" && c.OpenCTIToken == "" {
		return fmt.Errorf("OPENCTI_TOKEN is required in stdio mode")
	}

	if _, err := schema.ParseMode(c.SchemaMode); err != nil {
		return fmt.Errorf("invalid SCHEMA_MODE: %s (must be 'introspection' or 'sdl')", c.SchemaMode)
	}
	if c.SchemaCacheTTL < 0 {
		return fmt.Errorf("SCHEMA_CACHE_TTL must not be negative")
	}

	if c.Mode == "http" {
		if c.HTTPPort < 1 || c.HTTPPort > 65535 {
			return fmt.Errorf("invalid PORT: %d", c.HTTPPort)
		}
		if c.EnableTLS && (c.TLSCert == "" || c.TLSKey == "") {
			return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE are required when ENABLE_TLS=true")
		}
		if c.RateLimitRequests > 0 && c.RateLimitWindow < time.Second {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got %s", c.RateLimitWindow)
		}
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolEnv gets a boolean environment variable
func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	value = strings.ToLower(value)
	return value == "true" || value == "1" || value == "yes"
}

// getIntEnv gets an integer environment variable
func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getDurationEnv gets a duration environment variable
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getSliceEnv gets a comma-separated list environment variable
func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
