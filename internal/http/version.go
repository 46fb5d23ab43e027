package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// API version constants
const (
	// APIVersionV1 represents version 1 of the API
	APIVersionV1 = "v1"

	// LatestAPIVersion is the version served by unversioned routes
	LatestAPIVersion = APIVersionV1
)

// Note: contextKey type is defined in middleware.go
const versionContextKey contextKey = "api_version"

var supportedVersions = map[string]bool{
	APIVersionV1: true,
}

// mcpPath is a parsed /mcp[/vN][/profile] request path.
type mcpPath struct {
	ok      bool // the path is an MCP endpoint
	version string
	profile string
}

// parseMCPPath splits an MCP endpoint path. Paths outside /mcp, or with
// segments after the profile, are not MCP endpoints.
//
//   - "/mcp"            -> version "", profile ""
//   - "/mcp/v1"         -> version "v1"
//   - "/mcp/schema"     -> profile "schema"
//   - "/mcp/v1/schema"  -> version "v1", profile "schema"
func parseMCPPath(path string) mcpPath {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if segments[0] != "mcp" {
		return mcpPath{}
	}

	p := mcpPath{ok: true}
	rest := segments[1:]
	if len(rest) > 0 && isVersionSegment(rest[0]) {
		p.version, rest = rest[0], rest[1:]
	}
	if len(rest) > 0 {
		p.profile, rest = rest[0], rest[1:]
	}
	if len(rest) > 0 {
		return mcpPath{}
	}
	return p
}

// isVersionSegment matches "v" followed by digits only.
func isVersionSegment(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsValidVersion checks if a version string is supported
func IsValidVersion(version string) bool {
	return supportedVersions[version]
}

// GetVersionFromContext retrieves the API version from the request context
func GetVersionFromContext(ctx context.Context) string {
	if version, ok := ctx.Value(versionContextKey).(string); ok {
		return version
	}
	return LatestAPIVersion
}

// VersionMiddleware rejects MCP requests for unsupported API versions with
// 404 and records the resolved version in the request context.
func VersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := parseMCPPath(r.URL.Path).version
		if version == "" {
			version = LatestAPIVersion
		} else if !IsValidVersion(version) {
			http.Error(w, fmt.Sprintf("API version %s is not supported", version), http.StatusNotFound)
			return
		}

		ctx := context.WithValue(r.Context(), versionContextKey, version)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
