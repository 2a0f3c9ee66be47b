package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/rs/zerolog/log"
)

// FailureMessage replaces the assistant slot when a turn fails
const FailureMessage = "Sorry, I couldn't get a response from the agent. Please try again."

// minMessageGap keeps every message strictly after the one before it, even
// on stores with millisecond timestamps
const minMessageGap = time.Millisecond

// State is the lifecycle position of a conversation
type State int

const (
	StateIdle State = iota
	StateAwaitingSession
	StateTurnInFlight
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSession:
		return "awaiting_session"
	case StateTurnInFlight:
		return "turn_in_flight"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome classifies a completed turn
type Outcome int

const (
	// OutcomeOK means the agent answered
	OutcomeOK Outcome = iota
	// OutcomeRetry means the agent failed and the user may try again
	OutcomeRetry
)

func (o Outcome) String() string {
	if o == OutcomeRetry {
		return "retry"
	}
	return "ok"
}

// TranscriptEntry is one visible message in the conversation
type TranscriptEntry struct {
	Role    domain.MessageRole `json:"role"`
	Content string             `json:"content"`
	Failed  bool               `json:"failed,omitempty"`
}

// TurnResult reports how a turn ended
type TurnResult struct {
	Outcome Outcome
	Answer  string
	Log     string
	Retries int
	// Err is the agent failure behind OutcomeRetry
	Err error
	// Warnings are persistence failures; each wraps domain.ErrPersistence
	Warnings []error
}

// Conversation is one user's exchange with one agent over one session.
// At most one turn runs at a time.
type Conversation struct {
	svc    *ConversationService
	userID string
	mode   domain.AgentMode

	mu             sync.Mutex
	sessionID      string
	sessionCreated bool
	state          State
	generation     uint64
	transcript     []TranscriptEntry
	logs           []string
	degraded       bool
	// lastAt is the timestamp given to the most recent stored message
	lastAt time.Time
}

func newConversation(svc *ConversationService, userID string, mode domain.AgentMode, sessionID string) *Conversation {
	return &Conversation{
		svc:       svc,
		userID:    userID,
		mode:      mode,
		sessionID: sessionID,
		state:     StateIdle,
	}
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conversation) UserID() string         { return c.userID }
func (c *Conversation) Mode() domain.AgentMode { return c.mode }

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Degraded reports whether any write to the session store has failed
func (c *Conversation) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Transcript returns a copy of the visible messages
func (c *Conversation) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Logs returns the diagnostic lines streamed so far
func (c *Conversation) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// Terminate ends the conversation. A turn still running finishes its store
// writes but no longer touches the transcript.
func (c *Conversation) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateTerminated
	c.generation++
}

// turn is the state captured when a turn is submitted
type turn struct {
	sessionID  string
	generation uint64
	prompt     string
	slot       int
	createNow  bool
}

// SubmitTurn sends prompt to the agent and records both sides of the
// exchange. Events are forwarded to events, which is closed on return; nil is
// allowed. Only configuration and state errors are returned as err; agent
// failures come back as OutcomeRetry.
func (c *Conversation) SubmitTurn(ctx context.Context, prompt string, events chan<- domain.StreamEvent) (*TurnResult, error) {
	if events != nil {
		defer close(events)
	}

	t, err := c.begin(prompt)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{}

	if t.createNow {
		if err := c.createSession(ctx, t); err != nil {
			result.Warnings = append(result.Warnings, err)
		}
		c.setState(t, StateTurnInFlight)
	}

	// the user message is written while the agent streams
	userAt := c.stamp()
	userPersisted := make(chan error, 1)
	go func() {
		userPersisted <- c.persist(context.WithoutCancel(ctx), t.sessionID, domain.RoleUser, t.prompt, userAt)
	}()

	res, invokeErr := c.invoke(ctx, t, events)

	if err := <-userPersisted; err != nil {
		result.Warnings = append(result.Warnings, err)
	}

	if res != nil {
		result.Log = res.Log
		result.Retries = res.Retries
	}

	if invokeErr != nil {
		if errors.Is(invokeErr, domain.ErrAgentNotConfigured) {
			c.finish(t, TranscriptEntry{Role: domain.RoleAssistant, Content: FailureMessage, Failed: true}, result.Warnings)
			return nil, invokeErr
		}
		log.Warn().
			Err(invokeErr).
			Str("session_id", t.sessionID).
			Str("agent", string(c.mode)).
			Msg("agent turn failed")

		result.Outcome = OutcomeRetry
		result.Err = invokeErr
		result.Answer = FailureMessage
		c.finish(t, TranscriptEntry{Role: domain.RoleAssistant, Content: FailureMessage, Failed: true}, result.Warnings)
		return result, nil
	}

	if strings.TrimSpace(res.Content) == "" {
		result.Outcome = OutcomeRetry
		result.Err = fmt.Errorf("%w: agent returned an empty answer", domain.ErrAgentTransport)
		result.Answer = FailureMessage
		c.finish(t, TranscriptEntry{Role: domain.RoleAssistant, Content: FailureMessage, Failed: true}, result.Warnings)
		return result, nil
	}

	result.Outcome = OutcomeOK
	result.Answer = res.Content

	assistantAt := c.stamp()
	if err := c.persist(context.WithoutCancel(ctx), t.sessionID, domain.RoleAssistant, res.Content, assistantAt); err != nil {
		result.Warnings = append(result.Warnings, err)
	}

	c.finish(t, TranscriptEntry{Role: domain.RoleAssistant, Content: res.Content}, result.Warnings)
	return result, nil
}

// begin validates the request and moves out of Idle. Nothing is written
// when it fails.
func (c *Conversation) begin(prompt string) (turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return turn{}, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidMessage)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateTerminated:
		return turn{}, domain.ErrConversationEnded
	case StateIdle:
	default:
		return turn{}, domain.ErrTurnInFlight
	}

	if _, err := c.svc.modes.Resolve(c.mode); err != nil {
		return turn{}, err
	}

	c.transcript = append(c.transcript,
		TranscriptEntry{Role: domain.RoleUser, Content: prompt},
		TranscriptEntry{Role: domain.RoleAssistant},
	)
	t := turn{
		sessionID:  c.sessionID,
		generation: c.generation,
		prompt:     prompt,
		slot:       len(c.transcript) - 1,
		createNow:  !c.sessionCreated,
	}
	if t.createNow {
		c.state = StateAwaitingSession
	} else {
		c.state = StateTurnInFlight
	}
	return t, nil
}

func (c *Conversation) createSession(ctx context.Context, t turn) error {
	now := c.svc.now()
	sess := &domain.ChatSession{
		ID:        t.sessionID,
		UserID:    c.userID,
		AgentID:   c.mode,
		Title:     domain.TitleFromPrompt(t.prompt),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.svc.sessions.Create(context.WithoutCancel(ctx), sess); err != nil {
		log.Error().Err(err).Str("session_id", t.sessionID).Msg("failed to create session")
		c.markDegraded()
		return fmt.Errorf("%w: failed to create session: %w", domain.ErrPersistence, err)
	}

	c.mu.Lock()
	if c.sessionID == t.sessionID {
		c.sessionCreated = true
	}
	c.mu.Unlock()
	return nil
}

func (c *Conversation) invoke(ctx context.Context, t turn, out chan<- domain.StreamEvent) (*agent.Result, error) {
	in := make(chan domain.StreamEvent, 16)
	type outcome struct {
		res *agent.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := c.svc.invoker.Invoke(ctx, agent.Request{
			AgentMode: c.mode,
			Prompt:    t.prompt,
			SessionID: t.sessionID,
			UserID:    c.userID,
		}, in)
		done <- outcome{res, err}
	}()

	var answer strings.Builder
	for ev := range in {
		switch ev.Kind {
		case domain.EventLog:
			c.appendLog(t, ev.Text)
		default:
			answer.WriteString(ev.Text)
			c.updateSlot(t, answer.String())
		}
		if out != nil {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}

	o := <-done
	return o.res, o.err
}

func (c *Conversation) persist(ctx context.Context, sessionID string, role domain.MessageRole, content string, at time.Time) error {
	msg := domain.NewMessage(sessionID, c.userID, role, content, at)
	if err := c.svc.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrInvalidMessage) {
			return fmt.Errorf("failed to persist %s message: %w", role, err)
		}
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("role", string(role)).
			Msg("failed to persist message")
		c.markDegraded()
		return fmt.Errorf("%w: failed to persist %s message: %w", domain.ErrPersistence, role, err)
	}
	return nil
}

// stamp returns the time for the next stored message, at least
// minMessageGap after the previous one even if the wall clock stalls or
// steps back
func (c *Conversation) stamp() time.Time {
	at := c.svc.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastAt.IsZero() && at.Sub(c.lastAt) < minMessageGap {
		at = c.lastAt.Add(minMessageGap)
	}
	c.lastAt = at
	return at
}

// current reports whether t still owns the transcript; caller holds mu
func (c *Conversation) currentLocked(t turn) bool {
	return c.generation == t.generation && c.sessionID == t.sessionID
}

// updateSlot shows the cumulative answer; it never shortens the slot
func (c *Conversation) updateSlot(t turn, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(t) {
		return
	}
	if len(content) >= len(c.transcript[t.slot].Content) {
		c.transcript[t.slot].Content = content
	}
}

func (c *Conversation) appendLog(t turn, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(t) {
		return
	}
	c.logs = append(c.logs, line)
}

func (c *Conversation) setState(t turn, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentLocked(t) {
		c.state = s
	}
}

func (c *Conversation) markDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = true
}

// finish writes the final slot and returns to Idle
func (c *Conversation) finish(t turn, final TranscriptEntry, warnings []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(t) {
		return
	}
	c.transcript[t.slot] = final
	c.state = StateIdle

	if len(warnings) > 0 {
		log.Warn().
			Str("session_id", t.sessionID).
			Int("warnings", len(warnings)).
			Msg("turn finished with persistence warnings")
	}
}
