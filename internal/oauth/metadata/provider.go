package metadata

import (
	"net/http"
	"strings"
)

// WellKnownPath is where protected resource metadata is published.
const WellKnownPath = "/.well-known/oauth-protected-resource"

// ProtectedResource is RFC 9728 Protected Resource Metadata. It tells MCP
// clients which authorization server issues the bearer tokens this server
// accepts.
type ProtectedResource struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// Provider builds the metadata document for one server.
type Provider struct {
	serverURL string
	issuer    string
}

// NewProvider creates a provider. An empty serverURL is resolved from each
// request's Host header.
func NewProvider(serverURL, issuer string) *Provider {
	return &Provider{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		issuer:    issuer,
	}
}

// baseURL returns the configured URL or derives one from the request
func (p *Provider) baseURL(r *http.Request) string {
	if p.serverURL != "" {
		return p.serverURL
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// MetadataURL is the absolute URL of the metadata document, for the
// resource_metadata parameter of WWW-Authenticate challenges.
func (p *Provider) MetadataURL(r *http.Request) string {
	return p.baseURL(r) + WellKnownPath
}

// ProtectedResourceMetadata returns the document served at WellKnownPath.
func (p *Provider) ProtectedResourceMetadata(r *http.Request) ProtectedResource {
	doc := ProtectedResource{
		Resource:               p.baseURL(r) + "/mcp",
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "OpenCTI MCP Server",
	}
	if p.issuer != "" {
		doc.AuthorizationServers = []string{p.issuer}
	}
	return doc
}
