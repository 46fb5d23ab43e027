package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a platform token fails validation
	ErrInvalidToken = errors.New("invalid OpenCTI token")

	// ErrUnauthorized is returned when a bearer JWT is missing or rejected
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidateToken performs basic validation on an OpenCTI API token
// NOTE: tokens are usually UUIDs but the platform accepts any opaque string
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: token cannot be empty", ErrInvalidToken)
	}

	if len(token) < 8 {
		return fmt.Errorf("%w: token too short", ErrInvalidToken)
	}

	if len(token) > 512 {
		return fmt.Errorf("%w: token too long", ErrInvalidToken)
	}

	if strings.ContainsAny(token, " \t\n\r") {
		return fmt.Errorf("%w: token contains whitespace", ErrInvalidToken)
	}

	return nil
}

// JWTValidationConfig holds bearer JWT validation configuration
type JWTValidationConfig struct {
	// ExpectedIssuer is the expected "iss" claim value (empty means don't validate)
	ExpectedIssuer string
	// ExpectedAudience is the expected "aud" claim value (empty means don't validate)
	ExpectedAudience string
	// SigningKey is used for HMAC signature validation
	SigningKey []byte
	// PublicKey is used for RSA signature validation (optional)
	PublicKey *rsa.PublicKey
	// ClockSkew allows for some time drift (default: 5 minutes)
	ClockSkew time.Duration
}

// NewJWTValidationConfig builds a configuration for an HMAC secret and,
// when publicKeyFile is set, an RSA public key in PEM format.
func NewJWTValidationConfig(secret, issuer, audience, publicKeyFile string) (*JWTValidationConfig, error) {
	cfg := &JWTValidationConfig{
		ExpectedIssuer:   issuer,
		ExpectedAudience: audience,
		ClockSkew:        5 * time.Minute,
	}
	if secret != "" {
		cfg.SigningKey = []byte(secret)
	}
	if publicKeyFile != "" {
		pemData, err := os.ReadFile(publicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		pub, err := parseRSAPublicKey(string(pemData))
		if err != nil {
			return nil, err
		}
		cfg.PublicKey = pub
	}
	if cfg.SigningKey == nil && cfg.PublicKey == nil {
		return nil, errors.New("JWT validation needs a signing secret or a public key")
	}
	return cfg, nil
}

// parseRSAPublicKey parses an RSA public key from PEM format
func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}

	return rsaPub, nil
}

// ValidateJWTWithConfig checks signature, expiration and the configured
// issuer and audience, and returns the claims of a valid token.
func ValidateJWTWithConfig(jwtString string, cfg *JWTValidationConfig) (jwt.MapClaims, error) {
	if jwtString == "" {
		return nil, errors.New("JWT cannot be empty")
	}

	if len(strings.Split(jwtString, ".")) != 3 {
		return nil, errors.New("JWT must have three parts (header.payload.signature)")
	}

	token, err := jwt.Parse(jwtString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if cfg.SigningKey == nil {
				return nil, errors.New("HMAC signing key not configured")
			}
			return cfg.SigningKey, nil
		case *jwt.SigningMethodRSA:
			if cfg.PublicKey == nil {
				return nil, errors.New("RSA public key not configured")
			}
			return cfg.PublicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}, jwt.WithLeeway(cfg.ClockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("JWT validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid JWT claims")
	}

	if cfg.ExpectedIssuer != "" {
		iss, _ := claims["iss"].(string)
		if iss == "" {
			return nil, errors.New("JWT missing iss (issuer) claim")
		}
		if iss != cfg.ExpectedIssuer {
			return nil, fmt.Errorf("JWT issuer mismatch: expected %s, got %s", cfg.ExpectedIssuer, iss)
		}
	}

	if cfg.ExpectedAudience != "" {
		// Audience can be string or array of strings
		switch aud := claims["aud"].(type) {
		case string:
			if aud != cfg.ExpectedAudience {
				return nil, fmt.Errorf("JWT audience mismatch: expected %s, got %s", cfg.ExpectedAudience, aud)
			}
		case []interface{}:
			found := false
			for _, a := range aud {
				if audStr, ok := a.(string); ok && audStr == cfg.ExpectedAudience {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("JWT audience does not include expected value: %s", cfg.ExpectedAudience)
			}
		default:
			return nil, errors.New("JWT has invalid audience claim format")
		}
	}

	return claims, nil
}

// SubjectFromClaims returns the "sub" claim or an empty string
func SubjectFromClaims(claims jwt.MapClaims) string {
	sub, _ := claims.GetSubject()
	return sub
}

// SanitizeForLog sanitizes a string for logging by truncating and masking
// This prevents accidental logging of secrets
func SanitizeForLog(s string, showChars int) string {
	if s == "" {
		return "<empty>"
	}

	if len(s) <= showChars {
		return "<" + strings.Repeat("*", len(s)) + ">"
	}

	return s[:showChars] + "..." + "<" + strings.Repeat("*", len(s)-showChars) + ">"
}
