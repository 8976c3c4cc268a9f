package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/jkaninda/ngao/internal/llm"
)

// InMemorySessionStore implements SessionStore without persistence.
// History is lost on restart.
type InMemorySessionStore struct {
	mu      sync.RWMutex
	history map[string][]llm.Message
	owners  map[string]string
}

// NewInMemorySessionStore creates an ephemeral session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		history: make(map[string][]llm.Message),
		owners:  make(map[string]string),
	}
}

func (s *InMemorySessionStore) Claim(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.owners[sessionID]; ok {
		if owner != userID {
			return fmt.Errorf("session belongs to a different user")
		}
		return nil
	}

	s.owners[sessionID] = userID
	s.history[sessionID] = nil
	return nil
}

func (s *InMemorySessionStore) Append(_ context.Context, sessionID string, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], msgs...)
	return nil
}

func (s *InMemorySessionStore) Load(_ context.Context, sessionID string, maxMessages int) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.history[sessionID]
	if maxMessages > 0 && len(hist) > maxMessages {
		hist = hist[len(hist)-maxMessages:]
	}

	cp := make([]llm.Message, len(hist))
	copy(cp, hist)
	return cp, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
	delete(s.owners, sessionID)
	return nil
}

// Compile-time interface check.
var _ SessionStore = (*InMemorySessionStore)(nil)
