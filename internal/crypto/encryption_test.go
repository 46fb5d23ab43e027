package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create test logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper to build an enabled instance with a fresh key
func newTestEncryption(t *testing.T) *PayloadEncryption {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	pe, err := NewPayloadEncryption(key, testLogger())
	require.NoError(t, err)
	require.True(t, pe.IsEnabled())
	return pe
}

func TestNewPayloadEncryption(t *testing.T) {
	t.Run("empty key disables encryption", func(t *testing.T) {
		pe, err := NewPayloadEncryption("", testLogger())
		require.NoError(t, err)
		assert.False(t, pe.IsEnabled())

		out, err := pe.Encrypt([]byte("plain"))
		require.NoError(t, err)
		assert.Equal(t, []byte("plain"), out)

		out, err = pe.Decrypt([]byte("plain"))
		require.NoError(t, err)
		assert.Equal(t, []byte("plain"), out)
	})

	t.Run("rejects invalid base64 key", func(t *testing.T) {
		pe, err := NewPayloadEncryption("not-valid-base64!@#$", testLogger())
		assert.Error(t, err)
		assert.Nil(t, pe)
		assert.Contains(t, err.Error(), "base64")
	})

	t.Run("rejects key with wrong size", func(t *testing.T) {
		// 16 bytes (AES-128) instead of 32 bytes (AES-256)
		short := make([]byte, 16)
		_, err := rand.Read(short)
		require.NoError(t, err)

		pe, err := NewPayloadEncryption(base64.StdEncoding.EncodeToString(short), testLogger())
		assert.Nil(t, pe)
		assert.ErrorIs(t, err, ErrInvalidKeySize)
	})

	t.Run("nil instance is disabled", func(t *testing.T) {
		var pe *PayloadEncryption
		assert.False(t, pe.IsEnabled())
	})
}

func TestEncryptDecrypt(t *testing.T) {
	pe := newTestEncryption(t)

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"sdl document", []byte("type Query { malwares: MalwareConnection }")},
		{"introspection json", []byte(`{"__schema":{"types":[]}}`)},
		{"binary", []byte{0, 1, 2, 255, 254}},
		{"large", bytes.Repeat([]byte("type T { id: ID }\n"), 50000)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := pe.Encrypt(tc.plaintext)
			require.NoError(t, err)
			assert.Len(t, sealed, NonceSize+len(tc.plaintext)+16)
			if len(tc.plaintext) > 0 {
				assert.False(t, bytes.Contains(sealed, tc.plaintext))
			}

			opened, err := pe.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, len(tc.plaintext), len(opened))
			assert.True(t, bytes.Equal(tc.plaintext, opened))
		})
	}
}

// SECURITY: Reusing nonces in GCM mode is catastrophic
func TestNonceUniqueness(t *testing.T) {
	pe := newTestEncryption(t)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		sealed, err := pe.Encrypt([]byte("same payload"))
		require.NoError(t, err)
		nonce := string(sealed[:NonceSize])
		if seen[nonce] {
			t.Fatalf("Duplicate nonce detected at iteration %d", i)
		}
		seen[nonce] = true
	}
}

func TestTamperingDetected(t *testing.T) {
	pe := newTestEncryption(t)
	sealed, err := pe.Encrypt([]byte("schema payload"))
	require.NoError(t, err)

	t.Run("tampered ciphertext rejected", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[NonceSize+3] ^= 0x01
		_, err := pe.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("tampered nonce rejected", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[2] ^= 0x01
		_, err := pe.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated data rejected", func(t *testing.T) {
		_, err := pe.Decrypt(sealed[:len(sealed)-5])
		assert.Error(t, err)
	})

	t.Run("too short data rejected", func(t *testing.T) {
		_, err := pe.Decrypt([]byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		other := newTestEncryption(t)
		_, err := other.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestConcurrentEncryption(t *testing.T) {
	pe := newTestEncryption(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				sealed, err := pe.Encrypt([]byte("concurrent"))
				if !assert.NoError(t, err) {
					return
				}
				opened, err := pe.Decrypt(sealed)
				assert.NoError(t, err)
				assert.Equal(t, "concurrent", string(opened))
			}
		}()
	}
	wg.Wait()
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	raw, err := base64.StdEncoding.DecodeString(k1)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)
}
