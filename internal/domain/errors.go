package domain

import "errors"

var (
	// ErrAgentNotConfigured means no endpoint is configured for the requested agent mode
	ErrAgentNotConfigured = errors.New("agent endpoint not configured")
	// ErrCredentialExpired means the agent runtime rejected the bearer credential
	ErrCredentialExpired = errors.New("agent credential rejected")
	// ErrAgentTransport covers network failures, timeouts and unexpected statuses
	ErrAgentTransport = errors.New("agent transport failure")

	ErrPersistence       = errors.New("session store unavailable")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrTurnInFlight      = errors.New("a turn is already in flight for this conversation")
	ErrConversationEnded = errors.New("conversation terminated")
)

// IsRecoverable reports whether a failed invocation may be retried by the user
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, ErrAgentNotConfigured) {
		return false
	}
	return errors.Is(err, ErrCredentialExpired) || errors.Is(err, ErrAgentTransport)
}
