package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/api"
	"github.com/Rrens/sales-copilot/internal/credential"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/repository/memory"
	"github.com/Rrens/sales-copilot/internal/security"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	Name string
	Data string
}

type testServer struct {
	*httptest.Server
	token string
	store *memory.Store
}

// newTestServer wires the full HTTP stack against an in-memory store and a
// fake agent runtime driven by agentHandler
func newTestServer(t *testing.T, agentHandler http.HandlerFunc, locker *fakeLocker) *testServer {
	t.Helper()

	agentSrv := httptest.NewServer(agentHandler)
	t.Cleanup(agentSrv.Close)

	jwt := security.NewJWTManager("test-secret", time.Hour, "")
	token, _, err := jwt.GenerateToken("rep-1", "rep@example.com")
	require.NoError(t, err)

	store := memory.NewStore()
	agents := agent.NewRouter(map[string]string{string(domain.AgentPreCall): agentSrv.URL})
	client := agent.NewClient(agents, credential.NewStatic("agent-token"), agent.Options{
		CallTimeout:  5 * time.Second,
		ChunkTimeout: 2 * time.Second,
	})
	svc := service.NewConversationService(store, store, client, agents)

	deps := api.Dependencies{
		JWT:           jwt,
		Agents:        agents,
		Conversations: svc,
		Registry:      service.NewRegistry(svc),
	}
	if locker != nil {
		deps.TurnLock = locker
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, token: token, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func streamingAgent(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   any             `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, streamingAgent(), nil)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/v1/ready")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, streamingAgent(), nil)

	resp, err := http.Get(srv.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTurn_StreamsAndPersists(t *testing.T) {
	srv := newTestServer(t, streamingAgent(
		`data: "Hello"`,
		`data: "[LOG] looked up account"`,
		`data: " there"`,
	), nil)

	resp := srv.do(t, http.MethodPost, "/api/v1/agents/pre-call/turns", `{"prompt":"Prepare me for Acme"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.NotEmpty(t, events)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"content", "log", "content", "done"}, names)

	var done struct {
		SessionID string `json:"session_id"`
		Outcome   string `json:"outcome"`
		Answer    string `json:"answer"`
		Degraded  bool   `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].Data), &done))
	assert.Equal(t, "ok", done.Outcome)
	assert.Equal(t, "Hello there", done.Answer)
	assert.False(t, done.Degraded)
	require.NotEmpty(t, done.SessionID)

	// history is readable through the sessions API
	listResp := srv.do(t, http.MethodGet, "/api/v1/sessions?agent_id=pre-call", "")
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var sessions []domain.ChatSession
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, listResp).Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, done.SessionID, sessions[0].ID)
	assert.Equal(t, "Prepare me for Acme", sessions[0].Title)

	msgResp := srv.do(t, http.MethodGet, "/api/v1/sessions/"+done.SessionID+"/messages", "")
	require.Equal(t, http.StatusOK, msgResp.StatusCode)
	var messages []domain.Message
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, msgResp).Data, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello there", messages[1].Content)
}

func TestTurn_ResumesSession(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get(agent.SessionHeader))
		mu.Unlock()
		fmt.Fprintln(w, `data: "ok"`)
	}, nil)

	first := readEvents(t, srv.do(t, http.MethodPost, "/api/v1/agents/pre-call/turns", `{"prompt":"one"}`))
	var done struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(first[len(first)-1].Data), &done))

	body := fmt.Sprintf(`{"prompt":"two","session_id":%q}`, done.SessionID)
	second := readEvents(t, srv.do(t, http.MethodPost, "/api/v1/agents/pre-call/turns", body))
	require.NotEmpty(t, second)
	assert.Equal(t, "done", second[len(second)-1].Name)

	mu.Lock()
	assert.Equal(t, []string{done.SessionID, done.SessionID}, seen)
	mu.Unlock()

	messages, err := srv.store.ListBySession(context.Background(), done.SessionID, "rep-1")
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestTurn_AgentFailureReportsRetry(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}, nil)

	resp := srv.do(t, http.MethodPost, "/api/v1/agents/pre-call/turns", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Name)

	var done struct {
		Outcome string `json:"outcome"`
		Answer  string `json:"answer"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &done))
	assert.Equal(t, "retry", done.Outcome)
	assert.Equal(t, service.FailureMessage, done.Answer)
	assert.Equal(t, domain.ErrAgentTransport.Error(), done.Error)
}

func TestTurn_RequestErrors(t *testing.T) {
	srv := newTestServer(t, streamingAgent(`data: "ok"`), nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown agent", "/api/v1/agents/forecast/turns", `{"prompt":"hi"}`, http.StatusNotFound},
		{"missing prompt", "/api/v1/agents/pre-call/turns", `{}`, http.StatusBadRequest},
		{"blank prompt", "/api/v1/agents/pre-call/turns", `{"prompt":"   "}`, http.StatusBadRequest},
		{"bad json", "/api/v1/agents/pre-call/turns", `{`, http.StatusBadRequest},
		{"unknown session", "/api/v1/agents/pre-call/turns", `{"prompt":"hi","session_id":"nope"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

type fakeLocker struct {
	err error
}

func (f *fakeLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

func TestTurn_LockedSessionConflicts(t *testing.T) {
	srv := newTestServer(t, streamingAgent(`data: "ok"`), &fakeLocker{err: domain.ErrTurnInFlight})

	resp := srv.do(t, http.MethodPost, "/api/v1/agents/pre-call/turns", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, streamingAgent(`data: "ok"`), nil)

	events := readEvents(t, srv.do(t, http.MethodPost, "/api/v1/agents/pre-call/turns", `{"prompt":"hi"}`))
	var done struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].Data), &done))

	resp := srv.do(t, http.MethodDelete, "/api/v1/sessions/"+done.SessionID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	again := srv.do(t, http.MethodDelete, "/api/v1/sessions/"+done.SessionID, "")
	assert.Equal(t, http.StatusNotFound, again.StatusCode)

	msgs := srv.do(t, http.MethodGet, "/api/v1/sessions/"+done.SessionID+"/messages", "")
	assert.Equal(t, http.StatusNotFound, msgs.StatusCode)
}

func TestListAgents(t *testing.T) {
	srv := newTestServer(t, streamingAgent(), nil)

	resp := srv.do(t, http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Agents []string `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &data))
	assert.Equal(t, []string{"pre-call"}, data.Agents)
}
