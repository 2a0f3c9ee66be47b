package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const turnLockPrefix = "turnlock:"

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLock keeps a session to one in-flight turn across server replicas
type TurnLock struct {
	client *Client
	ttl    time.Duration
}

// NewTurnLock creates a lock whose entries expire after ttl, so a crashed
// replica cannot hold a session forever
func NewTurnLock(client *Client, ttl time.Duration) *TurnLock {
	return &TurnLock{client: client, ttl: ttl}
}

// Acquire claims the session. It returns domain.ErrTurnInFlight when another
// turn holds it; the returned func releases the claim.
func (l *TurnLock) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := turnLockPrefix + sessionID
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrTurnInFlight
	}

	release := func() {
		// the request context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to release turn lock")
		}
	}
	return release, nil
}
