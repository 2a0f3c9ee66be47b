package credential

import (
	"context"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// NewOAuth2 fetches machine-to-machine tokens with the client credentials
// grant. Each fetch hits the token endpoint; caching happens in the provider.
func NewOAuth2(cfg *clientcredentials.Config, refreshBuffer time.Duration) Provider {
	return newRefreshing("oauth2", refreshBuffer, func(ctx context.Context) (Token, error) {
		tok, err := cfg.Token(ctx)
		if err != nil {
			return Token{}, err
		}
		return Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
	})
}
