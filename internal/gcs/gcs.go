package gcs

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Config holds result offload configuration
type Config struct {
	OffloadEnabled    bool // Whether oversized results leave the response at all
	BucketName        string
	ObjectPrefix      string
	TokenThreshold    int
	URLExpiryHours    int
	SignerServiceAcct string // Empty = sign with the client's own credentials
	Enabled           bool   // GCS upload available; otherwise results go to temp files
}

// LoadConfig loads offload configuration from environment variables
func LoadConfig() *Config {
	bucketName := os.Getenv("GCS_BUCKET_NAME")

	// Schema dumps are large; the default keeps ordinary answers inline.
	tokenThreshold := 25000
	if val := os.Getenv("RESULT_OFFLOAD_TOKEN_THRESHOLD"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			tokenThreshold = parsed
		}
	}

	urlExpiryHours := 24
	if val := os.Getenv("GCS_URL_EXPIRY_HOURS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			urlExpiryHours = parsed
		}
	}

	prefix := strings.Trim(os.Getenv("GCS_OBJECT_PREFIX"), "/")
	if prefix == "" {
		prefix = "xtm-mcp"
	}

	offload := strings.ToLower(os.Getenv("RESULT_OFFLOAD_ENABLED"))

	return &Config{
		OffloadEnabled:    offload == "true" || offload == "1" || offload == "yes",
		BucketName:        bucketName,
		ObjectPrefix:      prefix,
		TokenThreshold:    tokenThreshold,
		URLExpiryHours:    urlExpiryHours,
		SignerServiceAcct: os.Getenv("GCS_SIGNER_SERVICE_ACCOUNT"),
		Enabled:           bucketName != "",
	}
}

// Manager handles storage of oversized tool results
type Manager struct {
	config *Config
	client *storage.Client
	logger *slog.Logger
}

// NewManager creates a new manager. Without a bucket, results are written to
// temp files.
func NewManager(ctx context.Context, config *Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !config.Enabled {
		return &Manager{config: config, logger: logger}, nil
	}

	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Manager{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// Close closes the GCS client
func (m *Manager) Close() error {
	if m != nil && m.client != nil {
		return m.client.Close()
	}
	return nil
}

// EstimateTokenCount estimates token count from JSON data (roughly 4 chars per token)
func EstimateTokenCount(data interface{}) (int, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return len(jsonBytes) / 4, nil
}

// UploadResult represents the result of an upload operation
type UploadResult struct {
	URL      string
	FileSize int64
	IsTemp   bool // true if saved to temp file instead of GCS
}

func objectName(toolName, ext string) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s%s", toolName, timestamp, uuid.NewString()[:8], ext)
}

// uploadToTempFile saves data to a temporary file and returns the path
func (m *Manager) uploadToTempFile(data interface{}, toolName string) (*UploadResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tempFile, err := os.CreateTemp("", "xtm-mcp-"+objectName(toolName, "-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tempFile.Write(jsonBytes); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	m.logger.Info("Saved large result to temp file",
		"path", tempFile.Name(),
		"size", len(jsonBytes))

	return &UploadResult{
		URL:      tempFile.Name(),
		FileSize: int64(len(jsonBytes)),
		IsTemp:   true,
	}, nil
}

func gzipJSON(data interface{}) (compressed []byte, originalSize int, err error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(jsonBytes); err != nil {
		return nil, 0, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), len(jsonBytes), nil
}

// Upload stores data in GCS, or in a temp file when no bucket is configured,
// and returns a URL or path to it.
func (m *Manager) Upload(ctx context.Context, data interface{}, toolName string) (*UploadResult, error) {
	if !m.config.Enabled {
		return m.uploadToTempFile(data, toolName)
	}

	compressed, originalSize, err := gzipJSON(data)
	if err != nil {
		return nil, err
	}

	filename := m.config.ObjectPrefix + "/" + objectName(toolName, ".json.gz")
	bucket := m.client.Bucket(m.config.BucketName)

	writer := bucket.Object(filename).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.ContentEncoding = "gzip"

	if _, err := writer.Write(compressed); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	expiryTime := time.Now().Add(time.Duration(m.config.URLExpiryHours) * time.Hour)
	signedURL, err := m.signURL(ctx, bucket, filename, expiryTime)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Uploaded large result to GCS",
		"object", filename,
		"original_size", originalSize,
		"compressed_size", len(compressed),
		"compression_ratio", fmt.Sprintf("%.1f%%", float64(len(compressed))/float64(originalSize)*100),
		"expires", expiryTime)

	return &UploadResult{
		URL:      signedURL,
		FileSize: int64(len(compressed)),
		IsTemp:   false,
	}, nil
}

// signURL signs with the IAM Credentials API when a signer account is
// configured, otherwise with the credentials the storage client detected.
func (m *Manager) signURL(ctx context.Context, bucket *storage.BucketHandle, filename string, expires time.Time) (string, error) {
	opts := &storage.SignedURLOptions{
		Method:  "GET",
		Expires: expires,
		Scheme:  storage.SigningSchemeV4,
	}

	if m.config.SignerServiceAcct != "" {
		iamClient, err := credentials.NewIamCredentialsClient(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to create IAM credentials client: %w", err)
		}
		defer iamClient.Close()

		resource := fmt.Sprintf("projects/-/serviceAccounts/%s", m.config.SignerServiceAcct)
		opts.GoogleAccessID = m.config.SignerServiceAcct
		opts.SignBytes = func(b []byte) ([]byte, error) {
			resp, err := iamClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    resource,
				Payload: b,
			})
			if err != nil {
				return nil, fmt.Errorf("signBlob failed: %w", err)
			}
			return resp.SignedBlob, nil
		}
	}

	signedURL, err := bucket.SignedURL(filename, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return signedURL, nil
}

// ShouldUpload determines if a result should be uploaded based on token count
func (m *Manager) ShouldUpload(data interface{}) (bool, int, error) {
	tokenCount, err := EstimateTokenCount(data)
	if err != nil {
		return false, 0, err
	}

	return tokenCount > m.config.TokenThreshold, tokenCount, nil
}

// WrapResult returns data unchanged when it is under the threshold, and a
// reference to the stored copy otherwise.
func (m *Manager) WrapResult(ctx context.Context, data interface{}, toolName string) (interface{}, error) {
	shouldUpload, tokenCount, err := m.ShouldUpload(data)
	if err != nil {
		m.logger.Warn("Failed to estimate token count, returning result inline",
			"tool", toolName,
			"error", err)
		return data, nil
	}

	if !shouldUpload {
		m.logger.Debug("Tool result within threshold, returning inline",
			"tool", toolName,
			"tokens", tokenCount,
			"threshold", m.config.TokenThreshold)
		return data, nil
	}

	m.logger.Info("Tool result exceeds threshold, uploading to storage",
		"tool", toolName,
		"tokens", tokenCount,
		"threshold", m.config.TokenThreshold)

	result, err := m.Upload(ctx, data, toolName)
	if err != nil {
		m.logger.Warn("Failed to upload to GCS, falling back to temp file",
			"tool", toolName,
			"error", err)

		result, err = m.uploadToTempFile(data, toolName)
		if err != nil {
			m.logger.Error("Failed to save to temp file",
				"tool", toolName,
				"error", err)
			return nil, fmt.Errorf("failed to save large result: %w", err)
		}
	}

	return map[string]interface{}{
		"resource_link":    result.URL,
		"resource_size":    result.FileSize,
		"estimated_tokens": tokenCount,
		"success":          true,
		"reason":           "results too large, see resource_link for content",
		"is_temp_file":     result.IsTemp,
	}, nil
}
