package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Repository. It backs single-node deployments and
// tests; multi-node deployments use the postgres implementation.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

var _ Repository = (*Memory)(nil)

// CreateSession implements Repository.
func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %q already exists", s.ID)
	}
	if s.State == "" {
		s.State = StateInitiating
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = m.now()
	}
	cp := s
	cp.Participants = append([]Participant(nil), s.Participants...)
	m.sessions[s.ID] = &cp
	return nil
}

// LoadSession implements Repository.
func (m *Memory) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(s), nil
}

// MarkParticipantJoined implements Repository.
func (m *Memory) MarkParticipantJoined(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	p := s.Participant(userID)
	if p == nil {
		return ErrNotParticipant
	}
	p.Connected = true
	if s.State == StateInitiating || s.State == StateRinging {
		s.State = StateOngoing
	}
	return nil
}

// MarkParticipantLeft implements Repository.
func (m *Memory) MarkParticipantLeft(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	p := s.Participant(userID)
	if p == nil {
		return ErrNotParticipant
	}
	p.Connected = false
	return nil
}

// MarkSessionEnded implements Repository.
func (m *Memory) MarkSessionEnded(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State == StateEnded {
		return nil
	}
	s.State = StateEnded
	at := m.now()
	s.EndedAt = &at
	for i := range s.Participants {
		s.Participants[i].Connected = false
	}
	return nil
}

// ListConnected implements Repository.
func (m *Memory) ListConnected(_ context.Context, sessionID string) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	var out []Participant
	for _, p := range s.Participants {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out, nil
}

// snapshot deep-copies a session so callers never observe later mutations.
func snapshot(s *Session) *Session {
	cp := *s
	cp.Participants = append([]Participant(nil), s.Participants...)
	if s.EndedAt != nil {
		at := *s.EndedAt
		cp.EndedAt = &at
	}
	return &cp
}
