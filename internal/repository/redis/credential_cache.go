package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/sales-copilot/internal/credential"
	"github.com/Rrens/sales-copilot/internal/security"
	"github.com/redis/go-redis/v9"
)

const (
	credentialCachePrefix = "credential:"
	credentialDefaultTTL  = 55 * time.Minute
)

// CredentialCache shares the agent credential between replicas. Tokens are
// sealed with the encryptor, bound to their key, before they reach Redis.
type CredentialCache struct {
	client    *Client
	encryptor *security.Encryptor
	key       string
}

type cachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCredentialCache creates a cache stored under credential:<name>
func NewCredentialCache(client *Client, encryptor *security.Encryptor, name string) *CredentialCache {
	return &CredentialCache{
		client:    client,
		encryptor: encryptor,
		key:       credentialCachePrefix + name,
	}
}

func (c *CredentialCache) Get(ctx context.Context) (credential.Token, bool, error) {
	sealed, err := c.client.rdb.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return credential.Token{}, false, nil
	}
	if err != nil {
		return credential.Token{}, false, fmt.Errorf("failed to read credential: %w", err)
	}

	plain, err := c.encryptor.OpenString(sealed, c.key)
	if err != nil {
		return credential.Token{}, false, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	var ct cachedToken
	if err := json.Unmarshal([]byte(plain), &ct); err != nil {
		return credential.Token{}, false, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return credential.Token{Value: ct.Value, ExpiresAt: ct.ExpiresAt}, true, nil
}

// Set stores tok until it expires
func (c *CredentialCache) Set(ctx context.Context, tok credential.Token) error {
	ttl := credentialDefaultTTL
	if !tok.ExpiresAt.IsZero() {
		ttl = time.Until(tok.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	data, err := json.Marshal(cachedToken{Value: tok.Value, ExpiresAt: tok.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	sealed, err := c.encryptor.SealString(string(data), c.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return c.client.rdb.Set(ctx, c.key, sealed, ttl).Err()
}

func (c *CredentialCache) Invalidate(ctx context.Context) error {
	return c.client.rdb.Del(ctx, c.key).Err()
}
