package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"google.golang.org/genproto/googleapis/api/metric"
	"google.golang.org/genproto/googleapis/api/monitoredres"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/FiligranHQ/xtm-mcp/internal/auth"
)

// Manager handles GCP metrics reporting
type Manager struct {
	config      *Config
	client      *monitoring.MetricClient
	projectPath string
	logger      *slog.Logger
	instanceID  string

	// isEnabled tracks whether metrics should be recorded (separate from client existence)
	// This allows tracking metrics in memory even if GCP client fails to initialize
	isEnabled bool

	// In-memory tracking (unique users are tracked via log-based metrics)
	mu             sync.RWMutex
	operationCount int64
	toolCounts     map[string]int64
	startTime      time.Time

	// Background reporter
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a new metrics manager
// If metrics are disabled or initialization fails, returns a no-op manager
func NewManager(ctx context.Context, config *Config, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		config:     config,
		logger:     logger,
		toolCounts: make(map[string]int64),
		startTime:  time.Now(),
		stopCh:     make(chan struct{}),
	}

	// If disabled, return no-op manager
	if !config.Enabled {
		logger.Info("GCP metrics reporting disabled")
		return m, nil
	}

	// Get instance ID for metric labels
	m.instanceID = getInstanceID()

	// Create GCP Monitoring client
	client, err := monitoring.NewMetricClient(ctx)
	if err != nil {
		logger.Warn("Failed to create GCP Monitoring client, metrics will be disabled",
			"error", err)
		return m, nil // Return no-op manager instead of error
	}
	m.client = client

	// Determine project ID
	projectID := config.ProjectID
	if projectID == "" {
		// Try to auto-detect from environment or metadata server
		projectID = detectProjectID()
		if projectID == "" {
			logger.Warn("Could not detect GCP project ID, metrics will be disabled")
			client.Close()
			m.client = nil
			return m, nil
		}
	}
	m.projectPath = fmt.Sprintf("projects/%s", projectID)
	m.isEnabled = true // Metrics tracking is now active

	logger.Info("GCP metrics reporting enabled",
		"project", projectID,
		"report_interval", config.ReportInterval,
		"instance_id", m.instanceID)

	// Start background reporter with a fresh context (not tied to init context)
	// The reporter has its own lifecycle controlled by stopCh
	m.wg.Add(1)
	go m.reportLoop()

	return m, nil
}

// RecordOperation records a tool invocation made with the given credentials.
// User tracking is done via structured logs for log-based metrics in Cloud Logging
func (m *Manager) RecordOperation(creds *auth.Credentials, tool string) {
	if m == nil || !m.isEnabled {
		return
	}

	m.mu.Lock()
	m.operationCount++
	m.toolCounts[tool]++
	m.mu.Unlock()

	m.logger.Info("mcp_operation",
		"user_id", userIdentifier(creds),
		"tool", tool,
		"instance_id", m.instanceID,
	)
}

// userIdentifier prefers the authenticated subject and falls back to a hash
// of the OpenCTI token so raw tokens never reach the logs.
func userIdentifier(creds *auth.Credentials) string {
	if creds == nil {
		return "server"
	}
	if creds.Subject != "" {
		return "sub:" + creds.Subject
	}
	if creds.HasToken() {
		return "token:" + creds.CacheKey()[:16]
	}
	return "server"
}

// Snapshot returns the in-memory counters.
func (m *Manager) Snapshot() (total int64, perTool map[string]int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perTool = make(map[string]int64, len(m.toolCounts))
	for k, v := range m.toolCounts {
		perTool[k] = v
	}
	return m.operationCount, perTool
}

// Close stops the background reporter and closes the client
func (m *Manager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}

	// Stop the reporter goroutine
	close(m.stopCh)
	m.wg.Wait()

	// Close the client
	return m.client.Close()
}

// reportLoop runs the periodic metric reporting
func (m *Manager) reportLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			// Final report before shutdown
			m.report()
			return
		case <-ticker.C:
			m.report()
		}
	}
}

// report sends current metrics to GCP Monitoring
// Note: User counts are tracked via log-based metrics, not here
func (m *Manager) report() {
	if m.client == nil {
		return
	}

	// Use timeout to prevent blocking
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	operationCount, perTool := m.Snapshot()
	now := time.Now()

	timeSeries := m.buildTimeSeries(operationCount, perTool, now)

	// Send to GCP
	err := m.client.CreateTimeSeries(ctx, &monitoringpb.CreateTimeSeriesRequest{
		Name:       m.projectPath,
		TimeSeries: timeSeries,
	})
	if err != nil {
		m.logger.Warn("Failed to report metrics to GCP Monitoring",
			"error", err,
			"operations", operationCount)
		return
	}

	m.logger.Debug("Reported metrics to GCP Monitoring",
		"operations", operationCount)
}

// buildTimeSeries creates the total operations series plus one series per tool
func (m *Manager) buildTimeSeries(total int64, perTool map[string]int64, now time.Time) []*monitoringpb.TimeSeries {
	series := []*monitoringpb.TimeSeries{
		m.createCumulativeTimeSeries("operations", nil, total, m.startTime, now),
	}
	tools := make([]string, 0, len(perTool))
	for tool := range perTool {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		series = append(series, m.createCumulativeTimeSeries("tool_operations",
			map[string]string{"tool": tool}, perTool[tool], m.startTime, now))
	}
	return series
}

// createCumulativeTimeSeries creates a cumulative time series for a counter metric
func (m *Manager) createCumulativeTimeSeries(metricName string, extraLabels map[string]string, value int64, startTime, endTime time.Time) *monitoringpb.TimeSeries {
	labels := map[string]string{
		"instance_id": m.instanceID,
	}
	for k, v := range extraLabels {
		labels[k] = v
	}
	return &monitoringpb.TimeSeries{
		Metric: &metric.Metric{
			Type:   m.config.metricType(metricName),
			Labels: labels,
		},
		Resource: &monitoredres.MonitoredResource{
			Type: "global",
			Labels: map[string]string{
				"project_id": extractProjectID(m.projectPath),
			},
		},
		MetricKind: metric.MetricDescriptor_CUMULATIVE,
		ValueType:  metric.MetricDescriptor_INT64,
		Points: []*monitoringpb.Point{
			{
				Interval: &monitoringpb.TimeInterval{
					StartTime: timestamppb.New(startTime),
					EndTime:   timestamppb.New(endTime),
				},
				Value: &monitoringpb.TypedValue{
					Value: &monitoringpb.TypedValue_Int64Value{
						Int64Value: value,
					},
				},
			},
		},
	}
}

// detectProjectID attempts to detect the GCP project ID from environment or metadata server
func detectProjectID() string {
	// Try common environment variables first
	if id := os.Getenv("GOOGLE_CLOUD_PROJECT"); id != "" {
		return id
	}
	if id := os.Getenv("GCLOUD_PROJECT"); id != "" {
		return id
	}
	if id := os.Getenv("GCP_PROJECT"); id != "" {
		return id
	}

	// Try GCP metadata server (works in Cloud Run, GCE, GKE, etc.)
	if metadata.OnGCE() {
		if id, err := metadata.ProjectIDWithContext(context.Background()); err == nil {
			return id
		}
	}

	return ""
}

// getInstanceID returns a unique instance identifier for metric labels
func getInstanceID() string {
	// Try Cloud Run revision
	if rev := os.Getenv("K_REVISION"); rev != "" {
		return rev
	}
	// Try container instance ID
	if instance := os.Getenv("INSTANCE_ID"); instance != "" {
		return instance
	}
	// Fall back to hostname
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "unknown"
}

// extractProjectID extracts the project ID from a project path
func extractProjectID(projectPath string) string {
	// projectPath is "projects/PROJECT_ID"
	if len(projectPath) > 9 {
		return projectPath[9:]
	}
	return ""
}
