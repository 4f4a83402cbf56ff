package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"teamclaude/internal/model"
)

const DefaultDedupTTL = 24 * time.Hour

type EventOptions struct {
	DedupTTL time.Duration
	Now      func() time.Time
}

// EventStore keeps raw events in memory with a dedup index on the scoped
// event id. An index entry lives for DedupTTL; once it expires the same id is
// stored again.
type EventStore struct {
	mu sync.RWMutex

	events []model.IngestEvent
	dedup  map[model.ScopedEventID]time.Time // expiry

	dedupTTL time.Duration
	now      func() time.Time
}

func NewEventStore() *EventStore {
	return NewEventStoreWithOptions(EventOptions{})
}

func NewEventStoreWithOptions(opts EventOptions) *EventStore {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = DefaultDedupTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EventStore{
		dedup:    make(map[model.ScopedEventID]time.Time),
		dedupTTL: opts.DedupTTL,
		now:      opts.Now,
	}
}

// Save stores ev unless its scoped id is already in the live dedup index.
// The check and the write happen under one lock.
func (s *EventStore) Save(_ context.Context, ev model.IngestEvent) (bool, error) {
	if ev.TenantID == "" || ev.UserID == "" || ev.EventID == "" {
		return false, errors.New("tenantID/userID/eventID required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := ev.Scoped()
	if expiresAt, ok := s.dedup[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.dedup[key] = now.Add(s.dedupTTL)
	s.events = append(s.events, ev)
	return true, nil
}

func (s *EventStore) HasEventID(_ context.Context, tenantID, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, ok := s.dedup[model.ScopedEventID{TenantID: tenantID, EventID: eventID}]
	return ok && s.now().Before(expiresAt), nil
}

func (s *EventStore) ListByTenant(_ context.Context, tenantID string) ([]model.IngestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.IngestEvent, 0)
	for _, ev := range s.events {
		if ev.TenantID == tenantID {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (s *EventStore) ListByTenantUser(_ context.Context, tenantID, userID string) ([]model.IngestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.IngestEvent, 0)
	for _, ev := range s.events {
		if ev.TenantID == tenantID && ev.UserID == userID {
			result = append(result, ev)
		}
	}
	return result, nil
}

// PruneExpired drops dead dedup entries and reports how many were removed.
func (s *EventStore) PruneExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, expiresAt := range s.dedup {
		if !now.Before(expiresAt) {
			delete(s.dedup, key)
			removed++
		}
	}
	return removed, nil
}
