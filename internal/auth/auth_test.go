package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret-for-hmac"

func TestCredentials_CacheKey(t *testing.T) {
	a := &Credentials{Subject: "alice", OpenCTIToken: "token-a"}
	b := &Credentials{Subject: "alice", OpenCTIToken: "token-b"}
	c := &Credentials{Subject: "bob", OpenCTIToken: "token-a"}

	assert.Equal(t, a.CacheKey(), a.Clone().CacheKey())
	assert.NotEqual(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
	assert.NotContains(t, a.CacheKey(), "token-a")
	assert.Len(t, a.CacheKey(), 64)
}

func TestCredentials_HasToken(t *testing.T) {
	var nilCreds *Credentials
	assert.False(t, nilCreds.HasToken())
	assert.False(t, (&Credentials{Subject: "alice"}).HasToken())
	assert.True(t, (&Credentials{OpenCTIToken: "x"}).HasToken())
}

func TestContextOperations(t *testing.T) {
	t.Run("credentials round trip", func(t *testing.T) {
		ctx := WithCredentials(context.Background(), &Credentials{Subject: "alice", OpenCTIToken: "tok"})
		creds, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", creds.Subject)
		assert.Equal(t, "tok", GetCredentials(ctx).OpenCTIToken)
	})

	t.Run("missing credentials", func(t *testing.T) {
		assert.Nil(t, GetCredentials(context.Background()))
		_, err := FromContext(context.Background())
		assert.Error(t, err)
	})

	t.Run("request id", func(t *testing.T) {
		assert.Empty(t, GetRequestID(context.Background()))
		ctx := WithRequestID(context.Background(), "req-1")
		assert.Equal(t, "req-1", GetRequestID(ctx))
	})
}

func TestCredentialIsolation_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			token := fmt.Sprintf("token-%d", n)
			ctx := WithCredentials(context.Background(), &Credentials{OpenCTIToken: token})
			time.Sleep(time.Millisecond)
			if got := GetCredentials(ctx).OpenCTIToken; got != token {
				errs <- fmt.Errorf("goroutine %d saw token %s", n, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"uuid token", "d434ce02-e58e-4cac-8b4c-42bf16748e84", false},
		{"empty", "", true},
		{"too short", "abc", true},
		{"whitespace", "d434ce02 e58e", true},
		{"too long", string(make([]byte, 513)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidToken))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		showChars int
		expected  string
	}{
		{"empty string", "", 4, "<empty>"},
		{"short string", "abc", 4, "<***>"},
		{"exact length", "abcd", 4, "<****>"},
		{"longer string", "abcdefghij", 4, "abcd...<******>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input, tt.showChars))
		})
	}
}

func signHS256(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateJWTWithConfig(t *testing.T) {
	cfg, err := NewJWTValidationConfig(testSecret, "https://issuer.example", "xtm-mcp", "")
	require.NoError(t, err)

	valid := jwt.MapClaims{
		"sub": "analyst@example.com",
		"iss": "https://issuer.example",
		"aud": "xtm-mcp",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}

	t.Run("accepts valid token", func(t *testing.T) {
		claims, err := ValidateJWTWithConfig(signHS256(t, valid, testSecret), cfg)
		require.NoError(t, err)
		assert.Equal(t, "analyst@example.com", SubjectFromClaims(claims))
	})

	t.Run("accepts audience list", func(t *testing.T) {
		claims := jwt.MapClaims{}
		for k, v := range valid {
			claims[k] = v
		}
		claims["aud"] = []string{"other", "xtm-mcp"}
		_, err := ValidateJWTWithConfig(signHS256(t, claims, testSecret), cfg)
		assert.NoError(t, err)
	})

	t.Run("rejects empty and malformed", func(t *testing.T) {
		_, err := ValidateJWTWithConfig("", cfg)
		assert.ErrorContains(t, err, "cannot be empty")
		_, err = ValidateJWTWithConfig("header.payload", cfg)
		assert.ErrorContains(t, err, "three parts")
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		_, err := ValidateJWTWithConfig(signHS256(t, valid, "another-secret"), cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
	})

	t.Run("rejects expired token", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "x", "iss": valid["iss"], "aud": valid["aud"], "exp": time.Now().Add(-time.Hour).Unix()}
		_, err := ValidateJWTWithConfig(signHS256(t, claims, testSecret), cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
	})

	t.Run("rejects token without exp", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "x", "iss": valid["iss"], "aud": valid["aud"]}
		_, err := ValidateJWTWithConfig(signHS256(t, claims, testSecret), cfg)
		assert.Error(t, err)
	})

	t.Run("rejects issuer mismatch", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "x", "iss": "https://evil.example", "aud": "xtm-mcp", "exp": time.Now().Add(time.Hour).Unix()}
		_, err := ValidateJWTWithConfig(signHS256(t, claims, testSecret), cfg)
		assert.ErrorContains(t, err, "issuer mismatch")
	})

	t.Run("rejects audience mismatch", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "x", "iss": valid["iss"], "aud": "someone-else", "exp": time.Now().Add(time.Hour).Unix()}
		_, err := ValidateJWTWithConfig(signHS256(t, claims, testSecret), cfg)
		assert.ErrorContains(t, err, "audience mismatch")
	})

	t.Run("rejects RSA token without public key", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, valid).SignedString(key)
		require.NoError(t, err)
		_, err = ValidateJWTWithConfig(signed, cfg)
		assert.ErrorContains(t, err, "RSA public key not configured")
	})
}

func TestNewJWTValidationConfig(t *testing.T) {
	t.Run("requires a key", func(t *testing.T) {
		_, err := NewJWTValidationConfig("", "", "", "")
		assert.Error(t, err)
	})

	t.Run("loads RSA public key", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "pub.pem")
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

		cfg, err := NewJWTValidationConfig("", "", "", path)
		require.NoError(t, err)
		require.NotNil(t, cfg.PublicKey)

		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub": "svc",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(key)
		require.NoError(t, err)

		claims, err := ValidateJWTWithConfig(signed, cfg)
		require.NoError(t, err)
		assert.Equal(t, "svc", SubjectFromClaims(claims))
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := NewJWTValidationConfig("", "", "", filepath.Join(t.TempDir(), "missing.pem"))
		assert.Error(t, err)
	})
}
