package credential

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache stores a credential where other replicas can reuse it
type Cache interface {
	Get(ctx context.Context) (Token, bool, error)
	Set(ctx context.Context, tok Token) error
	Invalidate(ctx context.Context) error
}

// Shared puts a Cache in front of a provider so every replica presents the
// same credential and a refresh on one replica is visible to the rest.
type Shared struct {
	inner  Provider
	cache  Cache
	buffer time.Duration
	now    func() time.Time
}

// NewShared wraps inner with cache
func NewShared(inner Provider, cache Cache, refreshBuffer time.Duration) *Shared {
	return &Shared{inner: inner, cache: cache, buffer: refreshBuffer, now: time.Now}
}

func (s *Shared) Token(ctx context.Context) (Token, error) {
	tok, ok, err := s.cache.Get(ctx)
	if err != nil {
		// the cache is an optimisation; fall through to the issuer
		log.Warn().Err(err).Msg("credential cache read failed")
	}
	if ok && !expiringSoon(tok, s.buffer, s.now()) {
		return tok, nil
	}

	tok, err = s.inner.Token(ctx)
	if err != nil {
		return Token{}, err
	}
	s.store(ctx, tok)
	return tok, nil
}

func (s *Shared) Refresh(ctx context.Context) (Token, error) {
	if err := s.cache.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("credential cache invalidate failed")
	}
	tok, err := s.inner.Refresh(ctx)
	if err != nil {
		return Token{}, err
	}
	s.store(ctx, tok)
	return tok, nil
}

func (s *Shared) store(ctx context.Context, tok Token) {
	if err := s.cache.Set(ctx, tok); err != nil {
		log.Warn().Err(err).Msg("credential cache write failed")
	}
}
