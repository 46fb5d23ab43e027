package metrics

import (
	"os"
	"strings"
	"time"
)

const defaultMetricPrefix = "custom.googleapis.com/xtm_mcp"

// Config configures the optional GCP Monitoring reporter. Prometheus
// collectors are always on and need no configuration.
type Config struct {
	Enabled        bool
	ProjectID      string        // empty = detect from ADC or the metadata server
	ReportInterval time.Duration // how often operation counts are pushed
	MetricPrefix   string        // custom metric type prefix
}

// LoadConfig reads the GCP_METRICS_* variables
func LoadConfig() *Config {
	prefix := strings.TrimSuffix(os.Getenv("GCP_METRICS_PREFIX"), "/")
	if prefix == "" {
		prefix = defaultMetricPrefix
	}

	return &Config{
		Enabled:        getBoolEnv("GCP_METRICS_ENABLED", false),
		ProjectID:      os.Getenv("GCP_METRICS_PROJECT_ID"),
		ReportInterval: getDurationEnv("GCP_METRICS_REPORT_INTERVAL", 60*time.Second),
		MetricPrefix:   prefix,
	}
}

// metricType returns the full custom metric type of name
func (c *Config) metricType(name string) string {
	prefix := c.MetricPrefix
	if prefix == "" {
		prefix = defaultMetricPrefix
	}
	return prefix + "/" + name
}

func getBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "":
		return defaultValue
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// getDurationEnv ignores unparsable and non-positive values
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	duration, err := time.ParseDuration(os.Getenv(key))
	if err != nil || duration <= 0 {
		return defaultValue
	}
	return duration
}
