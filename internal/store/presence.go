package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"teamclaude/internal/model"
)

type presenceEntry struct {
	record    model.PresenceRecord
	expiresAt time.Time
}

// PresenceStore holds presence records under presence:user:{tenant}:{user}
// keys, escaped by model.PresenceKey. Every entry carries its own expiry;
// an expired entry reads back as absent.
type PresenceStore struct {
	mu      sync.RWMutex
	entries map[string]presenceEntry
	now     func() time.Time
}

func NewPresenceStore() *PresenceStore {
	return NewPresenceStoreWithNow(time.Now)
}

func NewPresenceStoreWithNow(now func() time.Time) *PresenceStore {
	return &PresenceStore{entries: make(map[string]presenceEntry), now: now}
}

func (s *PresenceStore) Get(_ context.Context, tenantID, userID string) (model.PresenceRecord, bool, error) {
	key := model.PresenceKey(tenantID, userID)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return model.PresenceRecord{}, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && !s.now().Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return model.PresenceRecord{}, false, nil
	}
	return entry.record, true, nil
}

// Put writes the whole record and resets its expiry to ttl from now.
func (s *PresenceStore) Put(_ context.Context, rec model.PresenceRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[model.PresenceKey(rec.TenantID, rec.UserID)] = presenceEntry{
		record:    rec,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// SetState changes only the state field and leaves the expiry alone. It
// reports false when the record is gone.
func (s *PresenceStore) SetState(_ context.Context, tenantID, userID string, state model.PresenceState) (bool, error) {
	key := model.PresenceKey(tenantID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return false, nil
	}
	entry.record.State = state
	s.entries[key] = entry
	return true, nil
}

// Scan returns up to limit live records whose key has the given prefix and
// sorts after the cursor. The returned cursor is empty when the scan is done.
func (s *PresenceStore) Scan(_ context.Context, cursor, prefix string, limit int) ([]model.PresenceRecord, string, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0)
	for key, entry := range s.entries {
		if !strings.HasPrefix(key, prefix) || key <= cursor {
			continue
		}
		if !now.Before(entry.expiresAt) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	next := ""
	if len(keys) > limit {
		keys = keys[:limit]
		next = keys[limit-1]
	}

	records := make([]model.PresenceRecord, 0, len(keys))
	for _, key := range keys {
		records = append(records, s.entries[key].record)
	}
	return records, next, nil
}

// PruneExpired deletes entries whose TTL has passed.
func (s *PresenceStore) PruneExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
