package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// contextKey is an unexported type for context keys to prevent collisions
type contextKey string

const (
	credentialsKey contextKey = "xtm_credentials"
	requestIDKey   contextKey = "xtm_request_id"
)

// Credentials holds the caller identity of one request. It is stored in
// context.Context so that concurrent requests never share a token.
type Credentials struct {
	// Subject is the authenticated MCP caller, from the bearer JWT "sub"
	// claim. Empty when MCP authentication is disabled.
	Subject string
	// OpenCTIToken overrides the configured platform token for this request.
	OpenCTIToken string
}

// Clone creates a copy of the credentials
func (c *Credentials) Clone() *Credentials {
	return &Credentials{
		Subject:      c.Subject,
		OpenCTIToken: c.OpenCTIToken,
	}
}

// HasToken reports whether the request carries its own platform token
func (c *Credentials) HasToken() bool {
	return c != nil && c.OpenCTIToken != ""
}

// CacheKey identifies the caller without exposing the token, e.g. as a
// rate limit key.
func (c *Credentials) CacheKey() string {
	h := sha256.New()
	h.Write([]byte(c.Subject))
	h.Write([]byte("|"))
	h.Write([]byte(c.OpenCTIToken))
	return hex.EncodeToString(h.Sum(nil))
}

// WithCredentials adds Credentials to the context
func WithCredentials(ctx context.Context, creds *Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey, creds)
}

// GetCredentials retrieves the Credentials from the context
// Returns nil if none were set
func GetCredentials(ctx context.Context) *Credentials {
	creds, _ := ctx.Value(credentialsKey).(*Credentials)
	return creds
}

// FromContext retrieves the Credentials from the context
func FromContext(ctx context.Context) (*Credentials, error) {
	creds := GetCredentials(ctx)
	if creds == nil {
		return nil, errors.New("no credentials found in context")
	}
	return creds, nil
}

// WithRequestID adds a request ID to the context for tracing
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
// Returns empty string if not found
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
