package metadata

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtectedResourceMetadata(t *testing.T) {
	t.Run("configured server url", func(t *testing.T) {
		p := NewProvider("https://mcp.example.com/", "https://auth.example.com")
		req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)

		doc := p.ProtectedResourceMetadata(req)
		assert.Equal(t, "https://mcp.example.com/mcp", doc.Resource)
		assert.Equal(t, []string{"https://auth.example.com"}, doc.AuthorizationServers)
		assert.Equal(t, []string{"header"}, doc.BearerMethodsSupported)
		assert.Equal(t, "https://mcp.example.com"+WellKnownPath, p.MetadataURL(req))
	})

	t.Run("derived from request", func(t *testing.T) {
		p := NewProvider("", "")
		req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
		req.Host = "localhost:8080"

		doc := p.ProtectedResourceMetadata(req)
		assert.Equal(t, "http://localhost:8080/mcp", doc.Resource)
		assert.Empty(t, doc.AuthorizationServers)
	})

	t.Run("https behind proxy or tls", func(t *testing.T) {
		p := NewProvider("", "")

		proxied := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
		proxied.Host = "mcp.internal"
		proxied.Header.Set("X-Forwarded-Proto", "https")
		assert.Equal(t, "https://mcp.internal"+WellKnownPath, p.MetadataURL(proxied))

		direct := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
		direct.Host = "mcp.internal"
		direct.TLS = &tls.ConnectionState{}
		assert.Equal(t, "https://mcp.internal/mcp", p.ProtectedResourceMetadata(direct).Resource)
	})
}
