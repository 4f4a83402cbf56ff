package auth

import (
	"testing"
	"time"
)

func TestSessions_CreateLookupExpire(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessionsWithNow(time.Hour, func() time.Time { return clock })

	id := s.Create(SessionUser{Subject: "alice"})
	user, ok := s.Lookup(id)
	if !ok || user.Subject != "alice" {
		t.Fatalf("expected alice, got %+v ok=%v", user, ok)
	}

	clock = clock.Add(2 * time.Hour)
	if _, ok := s.Lookup(id); ok {
		t.Fatalf("expected session to expire")
	}
}

func TestSessions_UnknownID(t *testing.T) {
	s := NewSessions(time.Hour)
	if _, ok := s.Lookup("nope"); ok {
		t.Fatalf("expected miss")
	}
	if _, ok := s.Lookup(""); ok {
		t.Fatalf("expected miss for empty id")
	}
}
