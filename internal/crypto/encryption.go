// Package crypto encrypts schema payloads before they leave the process.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	// KeySize is the required size for AES-256
	KeySize = 32 // 256 bits

	// NonceSize is the recommended size for GCM mode
	NonceSize = 12 // 96 bits
)

var (
	ErrInvalidKeySize    = errors.New("encryption key must be 32 bytes (256 bits)")
	ErrInvalidCiphertext = errors.New("ciphertext is too short or invalid")
	ErrEncryptionFailed  = errors.New("encryption failed")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// PayloadEncryption handles AES-256-GCM encryption of cached payloads.
// A zero key disables it and payloads pass through unchanged.
type PayloadEncryption struct {
	gcm     cipher.AEAD
	enabled bool
}

// NewPayloadEncryption creates an encryption instance from a base64 key.
func NewPayloadEncryption(keyB64 string, logger *slog.Logger) (*PayloadEncryption, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if keyB64 == "" {
		logger.Warn("SCHEMA_CACHE_ENCRYPTION_KEY not set - shared schema cache is stored in clear text")
		return &PayloadEncryption{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEMA_CACHE_ENCRYPTION_KEY (must be base64): %w", err)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d bytes", ErrInvalidKeySize, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	logger.Info("Schema cache encryption ENABLED with AES-256-GCM")

	return &PayloadEncryption{gcm: gcm, enabled: true}, nil
}

// IsEnabled returns whether encryption is enabled
func (pe *PayloadEncryption) IsEnabled() bool {
	return pe != nil && pe.enabled
}

// Encrypt seals plaintext as nonce || ciphertext || tag.
func (pe *PayloadEncryption) Encrypt(plaintext []byte) ([]byte, error) {
	if !pe.IsEnabled() {
		return plaintext, nil
	}

	// MUST be unique per encryption
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+pe.gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %v", ErrEncryptionFailed, err)
	}

	return pe.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (pe *PayloadEncryption) Decrypt(data []byte) ([]byte, error) {
	if !pe.IsEnabled() {
		return data, nil
	}

	if len(data) < NonceSize+pe.gcm.Overhead() {
		return nil, fmt.Errorf("%w: data too short", ErrInvalidCiphertext)
	}

	plaintext, err := pe.gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// GenerateKey generates a random 256-bit encryption key, base64 encoded
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}
