package handler

import (
	"net/http"

	"github.com/Rrens/sales-copilot/internal/api/middleware"
	"github.com/Rrens/sales-copilot/internal/api/response"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionHandler struct {
	conversations *service.ConversationService
	registry      *service.Registry
}

func NewSessionHandler(conversations *service.ConversationService, registry *service.Registry) *SessionHandler {
	return &SessionHandler{conversations: conversations, registry: registry}
}

// List returns the caller's sessions, optionally for one agent
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	mode := domain.AgentMode(r.URL.Query().Get("agent_id"))

	sessions, err := h.conversations.ListSessions(r.Context(), userID, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}

	response.OK(w, sessions)
}

// Messages returns a session's messages in the order they were written
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	messages, err := h.conversations.History(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	response.OK(w, messages)
}

// Delete removes a session and its messages
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := h.registry.Delete(r.Context(), userID, chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}

	response.NoContent(w)
}
