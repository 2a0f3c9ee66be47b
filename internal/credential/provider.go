// Package credential supplies bearer credentials for outbound agent calls.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Token is a bearer credential and the moment it stops being valid.
// A zero ExpiresAt means the issuer did not say.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Provider hands out the current credential and can be asked to replace it
// after the agent runtime rejected it.
type Provider interface {
	Token(ctx context.Context) (Token, error)
	Refresh(ctx context.Context) (Token, error)
}

type fetchFunc func(ctx context.Context) (Token, error)

// refreshing caches a fetched token and renews it shortly before expiry
type refreshing struct {
	name   string
	fetch  fetchFunc
	buffer time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current Token
}

func newRefreshing(name string, buffer time.Duration, fetch fetchFunc) *refreshing {
	return &refreshing{name: name, fetch: fetch, buffer: buffer, now: time.Now}
}

func (r *refreshing) Token(ctx context.Context) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current.Value != "" && !expiringSoon(r.current, r.buffer, r.now()) {
		return r.current, nil
	}
	return r.fetchLocked(ctx, false)
}

func (r *refreshing) Refresh(ctx context.Context) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchLocked(ctx, true)
}

func (r *refreshing) fetchLocked(ctx context.Context, forced bool) (Token, error) {
	tok, err := r.fetch(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("%s: failed to fetch credential: %w", r.name, err)
	}
	if tok.Value == "" {
		return Token{}, fmt.Errorf("%s: issuer returned an empty credential", r.name)
	}
	r.current = tok

	log.Debug().
		Str("provider", r.name).
		Bool("forced", forced).
		Time("expires_at", tok.ExpiresAt).
		Msg("credential fetched")
	return tok, nil
}

func expiringSoon(tok Token, buffer time.Duration, now time.Time) bool {
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return tok.ExpiresAt.Sub(now) < buffer
}

// Static always returns the same configured token. Refresh cannot obtain a
// new one, so a rejected static token fails the retry as well.
type Static struct {
	token string
}

// NewStatic creates a provider for a pre-issued token
func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) Token(ctx context.Context) (Token, error) {
	if s.token == "" {
		return Token{}, fmt.Errorf("static: no token configured")
	}
	return Token{Value: s.token}, nil
}

func (s *Static) Refresh(ctx context.Context) (Token, error) {
	return s.Token(ctx)
}
