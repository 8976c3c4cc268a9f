package agent

import (
	"context"

	"github.com/jkaninda/ngao/internal/llm"
)

// SessionStore keeps per-session conversation history. A session is
// owned by the user who first claimed it; requests from other users
// are refused so history cannot leak across API keys.
type SessionStore interface {
	// Claim verifies ownership of a session, creating it when new.
	Claim(ctx context.Context, sessionID, userID string) error

	// Append atomically appends one or more messages to a session.
	Append(ctx context.Context, sessionID string, msgs []llm.Message) error

	// Load returns the most recent messages for a session, up to
	// maxMessages, ordered oldest-first.
	Load(ctx context.Context, sessionID string, maxMessages int) ([]llm.Message, error)

	// Delete removes the session and its history.
	Delete(ctx context.Context, sessionID string) error
}

// DefaultMaxHistoryMessages is the default cap on messages loaded per session.
const DefaultMaxHistoryMessages = 50

// DefaultMaxMessageBytes is the default per-message content size limit (32 KB).
const DefaultMaxMessageBytes = 32768
