package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/crypto"
)

const payloadPrefix = "xtm-mcp:"

// PayloadStore shares schema payloads between server instances. Payloads
// are sealed with the configured encryption before they reach Redis.
type PayloadStore struct {
	client     *Client
	encryption *crypto.PayloadEncryption
	ttl        time.Duration
	logger     *slog.Logger
}

// NewPayloadStore creates a store. A zero ttl keeps entries until they are
// overwritten.
func NewPayloadStore(client *Client, encryption *crypto.PayloadEncryption, ttl time.Duration, logger *slog.Logger) *PayloadStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadStore{
		client:     client,
		encryption: encryption,
		ttl:        ttl,
		logger:     logger,
	}
}

// Load returns the stored payload, or nil, nil on a miss.
func (s *PayloadStore) Load(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.GetBytes(ctx, payloadPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}

	plain, err := s.encryption.Decrypt(raw)
	if err != nil {
		// A key rotation makes old entries unreadable; treat them as a miss.
		s.logger.Warn("Dropping undecryptable schema payload", "key", key, "error", err)
		_ = s.client.Del(ctx, payloadPrefix+key)
		return nil, nil
	}
	return plain, nil
}

// Save stores a payload.
func (s *PayloadStore) Save(ctx context.Context, key string, payload []byte) error {
	sealed, err := s.encryption.Encrypt(payload)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, payloadPrefix+key, sealed, s.ttl); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.logger.Debug("Stored schema payload", "key", key, "bytes", len(sealed), "encrypted", s.encryption.IsEnabled())
	return nil
}
