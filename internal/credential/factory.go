package credential

import (
	"fmt"

	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/security"
	"golang.org/x/oauth2/clientcredentials"
)

// FromConfig builds the provider selected by cfg.Type. A non-nil cache
// wraps the result in a Shared provider when cfg.Shared is set.
func FromConfig(cfg config.CredentialConfig, cache Cache) (Provider, error) {
	var p Provider

	switch cfg.Type {
	case "static":
		p = NewStatic(cfg.Token)
	case "jwt":
		if cfg.SigningSecret == "" {
			return nil, fmt.Errorf("credential: jwt provider requires a signing secret")
		}
		manager := security.NewJWTManager(cfg.SigningSecret, cfg.TTL, cfg.Audience)
		p = NewJWT(manager, cfg.Subject, cfg.RefreshBuffer)
	case "oauth2":
		if cfg.OAuth2.TokenURL == "" || cfg.OAuth2.ClientID == "" {
			return nil, fmt.Errorf("credential: oauth2 provider requires token_url and client_id")
		}
		p = NewOAuth2(&clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}, cfg.RefreshBuffer)
	default:
		return nil, fmt.Errorf("credential: unsupported provider type %q", cfg.Type)
	}

	if cfg.Shared && cache != nil {
		return NewShared(p, cache, cfg.RefreshBuffer), nil
	}
	return p, nil
}
