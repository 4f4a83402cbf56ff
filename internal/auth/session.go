package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const SessionCookieName = "tc_session"

// SessionUser is the identity attached to an interactive browser session.
type SessionUser struct {
	Subject string
	Email   string
	Name    string
}

type sessionEntry struct {
	user      SessionUser
	expiresAt time.Time
}

// Sessions is an in-memory session table. Entries are created by the login
// flow and looked up by cookie value on every request.
type Sessions struct {
	mu   sync.RWMutex
	byID map[string]sessionEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	return NewSessionsWithNow(ttl, time.Now)
}

func NewSessionsWithNow(ttl time.Duration, now func() time.Time) *Sessions {
	return &Sessions{
		byID: make(map[string]sessionEntry),
		ttl:  ttl,
		now:  now,
	}
}

func (s *Sessions) Create(user SessionUser) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = sessionEntry{user: user, expiresAt: s.now().Add(s.ttl)}
	return id
}

func (s *Sessions) Lookup(id string) (SessionUser, bool) {
	if id == "" {
		return SessionUser{}, false
	}

	s.mu.RLock()
	entry, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return SessionUser{}, false
	}
	if s.now().After(entry.expiresAt) {
		s.Delete(id)
		return SessionUser{}, false
	}
	return entry.user, entry.user.Subject != ""
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}
