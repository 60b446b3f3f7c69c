package domain

import (
	"sync"
	"time"
)

// ConnState is the lifecycle state of one event-channel connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateIdentified
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	default:
		return "disconnected"
	}
}

type Session struct {
	ID           string
	UserID       string
	State        ConnState
	CreatedAt    time.Time
	LastActiveAt time.Time
	mu           sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		State:        StateConnected,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Identify moves a connected session to Identified. It returns false when the
// session is closed or already bound to a different user.
func (s *Session) Identify(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case StateConnected:
	case StateIdentified:
		if s.UserID != userID {
			return false
		}
	default:
		return false
	}
	s.UserID = userID
	s.State = StateIdentified
	s.LastActiveAt = time.Now()
	return true
}

// Close moves the session to Disconnected and returns the user it was bound to.
func (s *Session) Close() (userID string, wasIdentified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasIdentified = s.State == StateIdentified
	s.State = StateDisconnected
	return s.UserID, wasIdentified
}

func (s *Session) IsIdentified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State == StateIdentified
}

func (s *Session) GetState() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
