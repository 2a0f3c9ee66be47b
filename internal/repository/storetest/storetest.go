// Package storetest holds the behaviour every session store adapter must
// share. Adapter tests call Run with their own repositories.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises sessions and messages against a live backend
func Run(t *testing.T, sessions domain.SessionRepository, messages domain.MessageRepository) {
	t.Helper()

	// millisecond precision survives every backend
	base := time.Now().UTC().Truncate(time.Millisecond)

	newSession := func(userID string, mode domain.AgentMode, at time.Time) *domain.ChatSession {
		return &domain.ChatSession{
			ID:        security.NewSessionID(),
			UserID:    userID,
			AgentID:   mode,
			Title:     "title",
			CreatedAt: at,
			UpdatedAt: at,
		}
	}

	t.Run("create is idempotent", func(t *testing.T) {
		ctx := context.Background()
		user := "user-" + security.NewSessionID()
		s := newSession(user, domain.AgentPreCall, base)
		require.NoError(t, sessions.Create(ctx, s))

		dup := *s
		dup.Title = "changed"
		require.NoError(t, sessions.Create(ctx, &dup))

		got, err := sessions.Get(ctx, s.ID, user)
		require.NoError(t, err)
		assert.Equal(t, "title", got.Title)
		assert.Equal(t, domain.AgentPreCall, got.AgentID)

		list, err := sessions.ListByUser(ctx, user, "")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("get is scoped by user", func(t *testing.T) {
		ctx := context.Background()
		s := newSession("owner-"+security.NewSessionID(), domain.AgentPreCall, base)
		require.NoError(t, sessions.Create(ctx, s))

		_, err := sessions.Get(ctx, s.ID, "someone-else")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = messages.ListBySession(ctx, s.ID, "someone-else")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("messages keep append order", func(t *testing.T) {
		ctx := context.Background()
		user := "user-" + security.NewSessionID()
		s := newSession(user, domain.AgentPostCall, base)
		require.NoError(t, sessions.Create(ctx, s))

		contents := []string{"q1", "a1", "q2", "a2"}
		roles := []domain.MessageRole{domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}
		for i := range contents {
			at := base.Add(time.Duration(i+1) * time.Millisecond)
			require.NoError(t, messages.Append(ctx, domain.NewMessage(s.ID, user, roles[i], contents[i], at)))
		}

		got, err := messages.ListBySession(ctx, s.ID, user)
		require.NoError(t, err)
		require.Len(t, got, 4)
		for i, m := range got {
			assert.Equal(t, contents[i], m.Content)
			assert.Equal(t, roles[i], m.Role)
			assert.Equal(t, s.ID, m.SessionID)
		}

		sess, err := sessions.Get(ctx, s.ID, user)
		require.NoError(t, err)
		assert.Equal(t, "a2", sess.LastMessagePreview)
		assert.WithinDuration(t, base.Add(4*time.Millisecond), sess.UpdatedAt, time.Millisecond)
	})

	t.Run("append rejects bad input", func(t *testing.T) {
		ctx := context.Background()
		user := "user-" + security.NewSessionID()
		s := newSession(user, domain.AgentPreCall, base)
		require.NoError(t, sessions.Create(ctx, s))

		err := messages.Append(ctx, domain.NewMessage(s.ID, user, "robot", "x", base))
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)

		err = messages.Append(ctx, domain.NewMessage("missing-"+security.NewSessionID(), user, domain.RoleUser, "x", base))
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("list filters by mode and orders by activity", func(t *testing.T) {
		ctx := context.Background()
		user := "user-" + security.NewSessionID()
		older := newSession(user, domain.AgentPreCall, base)
		newer := newSession(user, domain.AgentPreCall, base.Add(time.Second))
		other := newSession(user, domain.AgentPostCall, base.Add(2*time.Second))
		for _, s := range []*domain.ChatSession{older, newer, other} {
			require.NoError(t, sessions.Create(ctx, s))
		}

		pre, err := sessions.ListByUser(ctx, user, domain.AgentPreCall)
		require.NoError(t, err)
		require.Len(t, pre, 2)
		assert.Equal(t, newer.ID, pre[0].ID)
		assert.Equal(t, older.ID, pre[1].ID)

		// activity on the older session moves it to the front
		require.NoError(t, messages.Append(ctx, domain.NewMessage(older.ID, user, domain.RoleUser, "bump", base.Add(3*time.Second))))
		pre, err = sessions.ListByUser(ctx, user, domain.AgentPreCall)
		require.NoError(t, err)
		assert.Equal(t, older.ID, pre[0].ID)

		all, err := sessions.ListByUser(ctx, user, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := sessions.ListByUser(ctx, "nobody-"+security.NewSessionID(), "")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete cascades", func(t *testing.T) {
		ctx := context.Background()
		user := "user-" + security.NewSessionID()
		s := newSession(user, domain.AgentPreCall, base)
		require.NoError(t, sessions.Create(ctx, s))
		require.NoError(t, messages.Append(ctx, domain.NewMessage(s.ID, user, domain.RoleUser, "hi", base)))

		assert.ErrorIs(t, sessions.Delete(ctx, s.ID, "someone-else"), domain.ErrSessionNotFound)
		require.NoError(t, sessions.Delete(ctx, s.ID, user))

		_, err := sessions.Get(ctx, s.ID, user)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		_, err = messages.ListBySession(ctx, s.ID, user)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.ErrorIs(t, sessions.Delete(ctx, s.ID, user), domain.ErrSessionNotFound)
	})
}
