// Package agent invokes the remote agent runtimes and streams their output.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Rrens/sales-copilot/internal/credential"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/stream"
	"github.com/rs/zerolog/log"
)

// SessionHeader carries the session id so the runtime can load prior turns
const SessionHeader = "X-Session-Id"

const errorBodyLimit = 4096

// DefaultRejectedPhrases identify a rejected bearer credential in an error body
var DefaultRejectedPhrases = []string{"ineffectual token", "token has expired"}

// Request is a single user turn addressed to an agent
type Request struct {
	AgentMode domain.AgentMode
	Prompt    string
	SessionID string
	UserID    string
}

// Result holds what a finished invocation produced
type Result struct {
	Content string
	Log     string
	// Retries is 1 when the credential was refreshed and the call repeated
	Retries int
}

// Options tune transport behaviour
type Options struct {
	ConnectTimeout time.Duration
	// CallTimeout bounds the whole invocation, retry included
	CallTimeout time.Duration
	// ChunkTimeout bounds the silence between two reads of the body
	ChunkTimeout     time.Duration
	RejectedPhrases  []string
	RejectedStatuses []int
}

// Client calls agent runtimes over HTTP
type Client struct {
	router *Router
	creds  credential.Provider
	http   *http.Client
	opts   Options
}

type invokeBody struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// NewClient creates a new agent client
func NewClient(router *Router, creds credential.Provider, opts Options) *Client {
	if len(opts.RejectedPhrases) == 0 {
		opts.RejectedPhrases = DefaultRejectedPhrases
	}
	if len(opts.RejectedStatuses) == 0 {
		opts.RejectedStatuses = []int{http.StatusUnauthorized, http.StatusForbidden}
	}
	return &Client{
		router: router,
		creds:  creds,
		http:   newHTTPClient(opts.ConnectTimeout, opts.CallTimeout),
		opts:   opts,
	}
}

// Invoke sends req to the agent for req.AgentMode and streams its reply.
// Every event is sent on events, which is closed when Invoke returns; a nil
// channel is allowed. A rejected credential is refreshed and the call is
// repeated exactly once.
func (c *Client) Invoke(ctx context.Context, req Request, events chan<- domain.StreamEvent) (*Result, error) {
	if events != nil {
		defer close(events)
	}

	endpoint, err := c.router.Resolve(req.AgentMode)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(invokeBody{Prompt: req.Prompt, SessionID: req.SessionID, UserID: req.UserID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	result := &Result{}

	tok, err := c.creds.Token(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: failed to obtain credential: %w", domain.ErrAgentTransport, err)
	}

	for {
		resp, err := c.post(ctx, endpoint, tok.Value, req.SessionID, body)
		if err != nil {
			return result, transportError(ctx, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
			resp.Body.Close()

			if !c.credentialRejected(resp.StatusCode, string(errBody)) {
				return result, fmt.Errorf("%w: agent returned status %d", domain.ErrAgentTransport, resp.StatusCode)
			}
			if result.Retries > 0 {
				return result, fmt.Errorf("%w: rejected again after refresh", domain.ErrCredentialExpired)
			}

			log.Warn().
				Str("agent", string(req.AgentMode)).
				Str("session_id", req.SessionID).
				Int("status", resp.StatusCode).
				Msg("agent rejected credential, refreshing")

			result.Retries++
			tok, err = c.creds.Refresh(ctx)
			if err != nil {
				return result, fmt.Errorf("%w: refresh failed: %w", domain.ErrCredentialExpired, err)
			}
			continue
		}

		err = c.consume(ctx, resp.Body, events, result)
		resp.Body.Close()
		return result, err
	}
}

func (c *Client) post(ctx context.Context, endpoint, token, sessionID string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set(SessionHeader, sessionID)

	return c.http.Do(httpReq)
}

// consume decodes the body, fanning events out to the channel and buffers
func (c *Client) consume(ctx context.Context, body io.Reader, events chan<- domain.StreamEvent, result *Result) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	r := body
	if c.opts.ChunkTimeout > 0 {
		timer := time.AfterFunc(c.opts.ChunkTimeout, func() {
			idle.Store(true)
			cancel()
		})
		defer timer.Stop()
		r = &idleReader{r: body, timer: timer, timeout: c.opts.ChunkTimeout}
	}

	// the body read does not observe readCtx on its own
	stop := context.AfterFunc(readCtx, func() {
		if cl, ok := body.(io.Closer); ok {
			cl.Close()
		}
	})
	defer stop()

	var content, logs strings.Builder
	err := stream.Read(r, func(ev domain.StreamEvent) {
		switch ev.Kind {
		case domain.EventLog:
			if logs.Len() > 0 {
				logs.WriteByte('\n')
			}
			logs.WriteString(ev.Text)
		default:
			content.WriteString(ev.Text)
		}
		if events != nil {
			select {
			case events <- ev:
			case <-readCtx.Done():
			}
		}
	})

	result.Content = content.String()
	result.Log = logs.String()

	if idle.Load() {
		return fmt.Errorf("%w: no data received for %s", domain.ErrAgentTransport, c.opts.ChunkTimeout)
	}
	if err != nil {
		return transportError(ctx, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return transportError(ctx, ctxErr)
	}
	return nil
}

func (c *Client) credentialRejected(status int, body string) bool {
	statusMatch := false
	for _, s := range c.opts.RejectedStatuses {
		if s == status {
			statusMatch = true
			break
		}
	}
	if !statusMatch {
		return false
	}

	body = strings.ToLower(body)
	for _, phrase := range c.opts.RejectedPhrases {
		if phrase != "" && strings.Contains(body, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: call timed out: %w", domain.ErrAgentTransport, ctx.Err())
	}
	return fmt.Errorf("%w: %w", domain.ErrAgentTransport, err)
}

// idleReader pushes the idle deadline back whenever bytes arrive
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}
