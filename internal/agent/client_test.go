package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/credential"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCreds hands out tok-0, tok-1, ... and counts refreshes
type fakeCreds struct {
	n         int32
	refreshes int32
}

func (f *fakeCreds) Token(ctx context.Context) (credential.Token, error) {
	return credential.Token{Value: fmt.Sprintf("tok-%d", atomic.LoadInt32(&f.n))}, nil
}

func (f *fakeCreds) Refresh(ctx context.Context) (credential.Token, error) {
	atomic.AddInt32(&f.refreshes, 1)
	n := atomic.AddInt32(&f.n, 1)
	return credential.Token{Value: fmt.Sprintf("tok-%d", n)}, nil
}

func newClient(t *testing.T, url string, creds credential.Provider, opts agent.Options) *agent.Client {
	t.Helper()
	router := agent.NewRouter(map[string]string{string(domain.AgentPreCall): url})
	return agent.NewClient(router, creds, opts)
}

func collect(events <-chan domain.StreamEvent) <-chan []domain.StreamEvent {
	out := make(chan []domain.StreamEvent, 1)
	go func() {
		var all []domain.StreamEvent
		for ev := range events {
			all = append(all, ev)
		}
		out <- all
	}()
	return out
}

func TestInvoke_StreamsContentAndLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-0", r.Header.Get("Authorization"))
		assert.Equal(t, "s1", r.Header.Get(agent.SessionHeader))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["prompt"])
		assert.Equal(t, "s1", body["sessionId"])
		assert.Equal(t, "u1", body["userId"])

		flusher := w.(http.Flusher)
		w.Write([]byte("data: \"Hel"))
		flusher.Flush()
		w.Write([]byte("lo\"\n[LOG] tool=x\n"))
		flusher.Flush()
		w.Write([]byte("data: \" world\"\n"))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, &fakeCreds{}, agent.Options{ChunkTimeout: time.Second})
	events := make(chan domain.StreamEvent)
	got := collect(events)

	res, err := client.Invoke(context.Background(), agent.Request{
		AgentMode: domain.AgentPreCall, Prompt: "hi", SessionID: "s1", UserID: "u1",
	}, events)
	require.NoError(t, err)

	assert.Equal(t, "Hello world", res.Content)
	assert.Equal(t, "tool=x", res.Log)
	assert.Equal(t, 0, res.Retries)
	assert.Equal(t, []domain.StreamEvent{
		{Kind: domain.EventContent, Text: "Hello"},
		{Kind: domain.EventLog, Text: "tool=x"},
		{Kind: domain.EventContent, Text: " world"},
	}, <-got)
}

func TestInvoke_RefreshesRejectedCredentialOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Equal(t, "Bearer tok-0", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Ineffectual token"}`))
			return
		}
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte("data: \"ok\"\n"))
	}))
	defer srv.Close()

	creds := &fakeCreds{}
	client := newClient(t, srv.URL, creds, agent.Options{})

	res, err := client.Invoke(context.Background(), agent.Request{AgentMode: domain.AgentPreCall, Prompt: "p", SessionID: "s"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 1, res.Retries)
	assert.EqualValues(t, 1, atomic.LoadInt32(&creds.refreshes))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvoke_SecondRejectionIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("token has expired"))
	}))
	defer srv.Close()

	creds := &fakeCreds{}
	client := newClient(t, srv.URL, creds, agent.Options{})

	res, err := client.Invoke(context.Background(), agent.Request{AgentMode: domain.AgentPreCall, Prompt: "p"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCredentialExpired))
	assert.True(t, domain.IsRecoverable(err))
	assert.Equal(t, 1, res.Retries)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&creds.refreshes))
}

func TestInvoke_OtherFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error with phrase", http.StatusInternalServerError, "ineffectual token"},
		{"unauthorized without phrase", http.StatusUnauthorized, "who are you"},
		{"bad request", http.StatusBadRequest, "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			creds := &fakeCreds{}
			client := newClient(t, srv.URL, creds, agent.Options{})

			_, err := client.Invoke(context.Background(), agent.Request{AgentMode: domain.AgentPreCall}, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrAgentTransport))
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
			assert.EqualValues(t, 0, atomic.LoadInt32(&creds.refreshes))
		})
	}
}

func TestInvoke_UnknownModeMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, &fakeCreds{}, agent.Options{})
	events := make(chan domain.StreamEvent, 1)

	res, err := client.Invoke(context.Background(), agent.Request{AgentMode: domain.AgentPostCall}, events)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrAgentNotConfigured))
	assert.False(t, domain.IsRecoverable(err))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	_, open := <-events
	assert.False(t, open)
}

func TestInvoke_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: \"partial\"\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newClient(t, srv.URL, &fakeCreds{}, agent.Options{ChunkTimeout: 100 * time.Millisecond})

	start := time.Now()
	res, err := client.Invoke(context.Background(), agent.Request{AgentMode: domain.AgentPreCall}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAgentTransport))
	assert.Equal(t, "partial", res.Content)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInvoke_CallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the server only sees the client hang up once the body is consumed
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newClient(t, srv.URL, &fakeCreds{}, agent.Options{CallTimeout: 100 * time.Millisecond})

	_, err := client.Invoke(context.Background(), agent.Request{AgentMode: domain.AgentPreCall}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAgentTransport))
}

func TestRouter(t *testing.T) {
	r := agent.NewRouter(map[string]string{"pre-call": "http://a", "post-call": " "})

	url, err := r.Resolve(domain.AgentPreCall)
	require.NoError(t, err)
	assert.Equal(t, "http://a", url)

	_, err = r.Resolve(domain.AgentPostCall)
	assert.ErrorIs(t, err, domain.ErrAgentNotConfigured)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, domain.ErrAgentNotConfigured)

	r.Register(domain.AgentPostCall, "http://b")
	assert.Equal(t, []domain.AgentMode{domain.AgentPostCall, domain.AgentPreCall}, r.Modes())
}
