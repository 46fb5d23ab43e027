package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MCP_MODE", "MCP_PROFILE", "LOG_LEVEL",
		"OPENCTI_URL", "OPENCTI_TOKEN", "OPENCTI_HTTP_TIMEOUT",
		"SCHEMA_MODE", "SCHEMA_CACHE_TTL", "SCHEMA_CACHE_ENCRYPTION_KEY",
		"PORT", "CORS_ALLOWED_ORIGINS", "MAX_REQUEST_BODY_BYTES",
		"ENABLE_TLS", "TLS_CERT_FILE", "TLS_KEY_FILE", "REDIS_URL",
		"MCP_AUTH_JWT_SECRET", "MCP_AUTH_JWT_ISSUER", "MCP_AUTH_JWT_AUDIENCE", "MCP_AUTH_JWT_PUBLIC_KEY_FILE", "MCP_SERVER_URL",
		"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
		"GOOGLE_API_KEY", "GEMINI_MODEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		clearEnv(t)

		cfg := Load()

		assert.Equal(t, "stdio", cfg.Mode)
		assert.Equal(t, "all", cfg.Profile)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "introspection", cfg.SchemaMode)
		assert.Zero(t, cfg.SchemaCacheTTL)
		assert.Zero(t, cfg.HTTPTimeout)
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Empty(t, cfg.CORSAllowedOrigins)
		assert.Equal(t, 600, cfg.RateLimitRequests)
		assert.Equal(t, time.Minute, cfg.RateLimitWindow)
		assert.False(t, cfg.AIEnabled())
		assert.False(t, cfg.AuthEnabled())
	})

	t.Run("custom values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MCP_MODE", "http")
		t.Setenv("MCP_PROFILE", "schema")
		t.Setenv("LOG_LEVEL", "DEBUG")
		t.Setenv("OPENCTI_URL", " https://opencti.example.com ")
		t.Setenv("OPENCTI_TOKEN", "d434ce02-e58e-4cac-8b4c-42bf16748e84")
		t.Setenv("OPENCTI_HTTP_TIMEOUT", "45s")
		t.Setenv("SCHEMA_MODE", "sdl")
		t.Setenv("SCHEMA_CACHE_TTL", "1h")
		t.Setenv("PORT", "9000")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
		t.Setenv("ENABLE_TLS", "yes")
		t.Setenv("MCP_AUTH_JWT_SECRET", "s3cret")
		t.Setenv("MCP_SERVER_URL", "https://mcp.example.com/")
		t.Setenv("GOOGLE_API_KEY", "key")

		cfg := Load()

		assert.Equal(t, "http", cfg.Mode)
		assert.Equal(t, "schema", cfg.Profile)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "https://opencti.example.com", cfg.OpenCTIURL)
		assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, "sdl", cfg.SchemaMode)
		assert.Equal(t, time.Hour, cfg.SchemaCacheTTL)
		assert.Equal(t, 9000, cfg.HTTPPort)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
		assert.True(t, cfg.EnableTLS)
		assert.True(t, cfg.AuthEnabled())
		assert.Equal(t, "https://mcp.example.com", cfg.PublicURL)
		assert.True(t, cfg.AIEnabled())
	})

	t.Run("malformed numbers fall back to defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "eighty")
		t.Setenv("SCHEMA_CACHE_TTL", "soon")

		cfg := Load()
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Zero(t, cfg.SchemaCacheTTL)
	})
}

func TestAddFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENCTI_URL", "http://env.example.com")
	t.Setenv("MCP_PROFILE", "query")

	cfg := Load()
	flagSet := pflag.NewFlagSet("xtm-mcp", pflag.ContinueOnError)
	cfg.AddFlags(flagSet)

	require.NoError(t, flagSet.Parse([]string{
		"--url", "https://flag.example.com",
		"--token", "flag-token",
		"--mode=http",
		"--port", "9090",
		"--schema-mode", "sdl",
	}))

	assert.Equal(t, "https://flag.example.com", cfg.OpenCTIURL)
	assert.Equal(t, "flag-token", cfg.OpenCTIToken)
	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "sdl", cfg.SchemaMode)
	assert.Equal(t, "query", cfg.Profile, "unset flags keep the environment value")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Mode:              "stdio",
			Profile:           "all",
			LogLevel:          "info",
			OpenCTIURL:        "http://localhost:4000",
			OpenCTIToken:      "d434ce02-e58e-4cac-8b4c-42bf16748e84",
			SchemaMode:        "introspection",
			HTTPPort:          8080,
			RateLimitRequests: 600,
			RateLimitWindow:   time.Minute,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"invalid mode", func(c *Config) { c.Mode = "sse" }, "invalid MCP_MODE"},
		{"unknown profile", func(c *Config) { c.Profile = "forensics" }, "forensics"},
		{"invalid log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"missing url", func(c *Config) { c.OpenCTIURL = "" }, "OPENCTI_URL is required"},
		{"url without scheme", func(c *Config) { c.OpenCTIURL = "localhost:4000" }, "invalid OPENCTI_URL"},
		{"ftp url", func(c *Config) { c.OpenCTIURL = "ftp://opencti" }, "invalid OPENCTI_URL"},
		{"stdio without token", func(c *Config) { c.OpenCTIToken = "" }, "OPENCTI_TOKEN is required"},
		{"invalid schema mode", func(c *Config) { c.SchemaMode = "graphiql" }, "invalid SCHEMA_MODE"},
		{"negative ttl", func(c *Config) { c.SchemaCacheTTL = -time.Second }, "SCHEMA_CACHE_TTL"},
		{"http bad port", func(c *Config) { c.Mode = "http"; c.HTTPPort = 70000 }, "invalid PORT"},
		{"tls without files", func(c *Config) { c.Mode = "http"; c.EnableTLS = true; c.TLSCert = "cert.pem" }, "TLS_CERT_FILE"},
		{"rate limit window too small", func(c *Config) { c.Mode = "http"; c.RateLimitWindow = time.Millisecond }, "RATE_LIMIT_WINDOW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("http mode accepts a missing token", func(t *testing.T) {
		cfg := valid()
		cfg.Mode = "http"
		cfg.OpenCTIToken = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled rate limit ignores window", func(t *testing.T) {
		cfg := valid()
		cfg.Mode = "http"
		cfg.RateLimitRequests = 0
		cfg.RateLimitWindow = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for level, want := range tests {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}
