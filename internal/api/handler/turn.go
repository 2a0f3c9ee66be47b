package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Rrens/sales-copilot/internal/api/middleware"
	"github.com/Rrens/sales-copilot/internal/api/response"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// TurnLocker claims a session for one turn across server replicas
type TurnLocker interface {
	Acquire(ctx context.Context, sessionID string) (func(), error)
}

// TurnHandler streams agent turns to the caller as server-sent events
type TurnHandler struct {
	registry *service.Registry
	locker   TurnLocker
}

// NewTurnHandler creates a new turn handler. locker may be nil.
func NewTurnHandler(registry *service.Registry, locker TurnLocker) *TurnHandler {
	return &TurnHandler{registry: registry, locker: locker}
}

type turnRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=64"`
	Prompt    string `json:"prompt" validate:"required,max=32000"`
}

type turnDone struct {
	SessionID string   `json:"session_id"`
	Outcome   string   `json:"outcome"`
	Answer    string   `json:"answer"`
	Retries   int      `json:"retries"`
	Warnings  []string `json:"warnings,omitempty"`
	Degraded  bool     `json:"degraded"`
	Error     string   `json:"error,omitempty"`
}

type turnOutcome struct {
	result *service.TurnResult
	err    error
}

// Submit runs one turn against the agent named in the URL
func (h *TurnHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	mode := domain.AgentMode(chi.URLParam(r, "mode"))

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, validationMessage(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming not supported")
		return
	}

	conv, err := h.registry.Open(r.Context(), userID, mode, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID := conv.SessionID()

	if h.locker != nil {
		release, err := h.locker.Acquire(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		defer release()
	}

	events := make(chan domain.StreamEvent, 16)
	done := make(chan turnOutcome, 1)
	go func() {
		res, err := conv.SubmitTurn(r.Context(), req.Prompt, events)
		done <- turnOutcome{result: res, err: err}
	}()

	sse := &eventWriter{w: w, flusher: flusher}
	for ev := range events {
		sse.send(string(ev.Kind), ev)
	}

	out := <-done
	if out.err != nil {
		if !sse.started {
			writeError(w, out.err)
			return
		}
		sse.send("error", map[string]string{"error": out.err.Error()})
		return
	}

	res := out.result
	payload := turnDone{
		SessionID: sessionID,
		Outcome:   res.Outcome.String(),
		Answer:    res.Answer,
		Retries:   res.Retries,
		Degraded:  conv.Degraded(),
	}
	for _, warn := range res.Warnings {
		payload.Warnings = append(payload.Warnings, warn.Error())
	}
	if res.Err != nil {
		payload.Error = publicAgentError(res.Err)
	}
	sse.send("done", payload)
}

// publicAgentError hides transport details from the caller
func publicAgentError(err error) string {
	switch {
	case errors.Is(err, domain.ErrCredentialExpired):
		return domain.ErrCredentialExpired.Error()
	case errors.Is(err, domain.ErrAgentTransport):
		return domain.ErrAgentTransport.Error()
	default:
		return "agent failure"
	}
}

// eventWriter writes server-sent events, sending headers on first use
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	broken  bool
}

func (e *eventWriter) send(event string, v any) {
	if e.broken {
		return
	}
	if !e.started {
		e.w.Header().Set("Content-Type", "text/event-stream")
		e.w.Header().Set("Cache-Control", "no-cache")
		e.w.Header().Set("Connection", "keep-alive")
		e.w.Header().Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		// client went away; the turn still completes and persists
		e.broken = true
		return
	}
	e.flusher.Flush()
}
