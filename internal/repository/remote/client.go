// Package remote talks to a chat history service over its HTTP API:
//
//	POST   /sessions                 create
//	GET    /sessions?agent_id=       list
//	GET    /sessions/{id}            session with messages
//	POST   /sessions/{id}/messages   append
//	DELETE /sessions/{id}            cascade delete
//
// Every request names the user in the X-User-Id header.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/google/uuid"
)

// UserHeader names the owning user on every request
const UserHeader = "X-User-Id"

// Store implements domain.SessionRepository and domain.MessageRepository
type Store struct {
	baseURL string
	client  *http.Client
}

// NewStore creates a client for the service at cfg.BaseURL
func NewStore(cfg config.RemoteConfig) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chat store base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid chat store url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type sessionPayload struct {
	SessionID          string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	AgentID            string    `json:"agent_id"`
	Title              string    `json:"title"`
	LastMessagePreview string    `json:"last_message_preview"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (p sessionPayload) toDomain() domain.ChatSession {
	return domain.ChatSession{
		ID:                 p.SessionID,
		UserID:             p.UserID,
		AgentID:            domain.AgentMode(p.AgentID),
		Title:              p.Title,
		LastMessagePreview: p.LastMessagePreview,
		CreatedAt:          p.CreatedAt.UTC(),
		UpdatedAt:          p.UpdatedAt.UTC(),
	}
}

type messagePayload struct {
	SessionID        string `json:"session_id"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	MessageTimestamp int64  `json:"message_timestamp"`
}

// created_at on writes is a hint; services that stamp their own time ignore it
type appendRequest struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type createRequest struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type errorBody struct {
	Error string `json:"error"`
}

// statusError is a non-success reply from the service
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat store returned status %d", e.Status)
	}
	return fmt.Sprintf("chat store returned status %d: %s", e.Status, e.Message)
}

// Create registers the session. 409 Conflict means it already exists.
func (s *Store) Create(ctx context.Context, session *domain.ChatSession) error {
	body := createRequest{SessionID: session.ID, AgentID: string(session.AgentID), Title: session.Title, CreatedAt: session.CreatedAt}
	err := s.do(ctx, http.MethodPost, "/sessions", session.UserID, body, nil)
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	var out struct {
		Session sessionPayload `json:"session"`
	}
	if err := s.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), userID, nil, &out); err != nil {
		return nil, notFound(err, "failed to get session")
	}
	sess := out.Session.toDomain()
	return &sess, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, agentID domain.AgentMode) ([]domain.ChatSession, error) {
	path := "/sessions"
	if agentID != "" {
		path += "?agent_id=" + url.QueryEscape(string(agentID))
	}
	var out struct {
		Sessions []sessionPayload `json:"sessions"`
	}
	if err := s.do(ctx, http.MethodGet, path, userID, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]domain.ChatSession, 0, len(out.Sessions))
	for _, p := range out.Sessions {
		sessions = append(sessions, p.toDomain())
	}
	return sessions, nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) error {
	if err := s.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), userID, nil, nil); err != nil {
		return notFound(err, "failed to delete session")
	}
	return nil
}

func (s *Store) Append(ctx context.Context, message *domain.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}
	body := appendRequest{Role: string(message.Role), Content: message.Content, CreatedAt: message.CreatedAt}
	path := "/sessions/" + url.PathEscape(message.SessionID) + "/messages"
	if err := s.do(ctx, http.MethodPost, path, message.UserID, body, nil); err != nil {
		return notFound(err, "failed to append message")
	}
	return nil
}

// ListBySession reads the session detail endpoint. The service does not
// expose message ids, so stable ones are derived from session and timestamp.
func (s *Store) ListBySession(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	var out struct {
		Messages []messagePayload `json:"messages"`
	}
	if err := s.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), userID, nil, &out); err != nil {
		return nil, notFound(err, "failed to list messages")
	}

	messages := make([]domain.Message, 0, len(out.Messages))
	for i, p := range out.Messages {
		name := fmt.Sprintf("%s/%d/%d", sessionID, p.MessageTimestamp, i)
		messages = append(messages, domain.Message{
			ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)),
			SessionID: sessionID,
			UserID:    userID,
			Role:      domain.MessageRole(p.Role),
			Content:   p.Content,
			CreatedAt: time.UnixMilli(p.MessageTimestamp).UTC(),
		})
	}
	return messages, nil
}

func (s *Store) do(ctx context.Context, method, path, userID string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(UserHeader, userID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		return &statusError{Status: resp.StatusCode, Message: eb.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func notFound(err error, msg string) error {
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return domain.ErrSessionNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
