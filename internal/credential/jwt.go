package credential

import (
	"context"
	"time"

	"github.com/Rrens/sales-copilot/internal/security"
)

// NewJWT mints short-lived HS256 service tokens for the agent runtime
func NewJWT(manager *security.JWTManager, subject string, refreshBuffer time.Duration) Provider {
	return newRefreshing("jwt", refreshBuffer, func(ctx context.Context) (Token, error) {
		value, expiresAt, err := manager.GenerateToken(subject, "")
		if err != nil {
			return Token{}, err
		}
		return Token{Value: value, ExpiresAt: expiresAt}, nil
	})
}
