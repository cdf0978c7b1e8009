package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/app/dto"
)

// Session is one end user's traversal of one flow: their current position
// plus the responses collected so far. Sessions are never shared across
// visitors.
type Session struct {
	ID        string        `json:"id"`
	FlowID    string        `json:"flow_id"`
	VisitorID string        `json:"visitor_id"`
	CurrentID string        `json:"current_id"`
	Responses dto.Responses `json:"responses"`
	StartedAt time.Time     `json:"started_at"`
}

// SessionService manages traversal session state
// PRINCIPLES:
// - SRP: Manages session lifecycle only; routing never touches this store
// - KISS: Simple in-memory storage, copy-on-read to avoid shared maps
type SessionService struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a new session service
func NewSessionService() *SessionService {
	return &SessionService{
		sessions: make(map[string]*Session),
	}
}

// Start creates a session for one visitor's traversal of a flow.
func (s *SessionService) Start(ctx context.Context, flowID, visitorID string) (*Session, error) {
	if flowID == "" {
		return nil, dto.ErrMissingFlowID
	}
	if visitorID == "" {
		return nil, dto.ErrMissingVisitorID
	}

	session := &Session{
		ID:        uuid.New().String(),
		FlowID:    flowID,
		VisitorID: visitorID,
		Responses: make(dto.Responses),
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return copySession(session), nil
}

// Get returns a copy of the session so callers cannot mutate shared state.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return copySession(session), nil
}

// Submit merges newly collected answers into the session response set.
func (s *SessionService) Submit(ctx context.Context, sessionID string, answers dto.Responses) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	for k, v := range answers {
		session.Responses[k] = v
	}
	return nil
}

// Advance records the visitor's new position after a routing step.
func (s *SessionService) Advance(ctx context.Context, sessionID, currentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	session.CurrentID = currentID
	return nil
}

// End discards the session after completion.
func (s *SessionService) End(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ActiveSessions returns the number of live sessions (for monitoring).
func (s *SessionService) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func copySession(in *Session) *Session {
	out := &Session{
		ID:        in.ID,
		FlowID:    in.FlowID,
		VisitorID: in.VisitorID,
		CurrentID: in.CurrentID,
		Responses: make(dto.Responses, len(in.Responses)),
		StartedAt: in.StartedAt,
	}
	for k, v := range in.Responses {
		out.Responses[k] = v
	}
	return out
}
