// Package ingest validates, deduplicates and stores activity events, then
// hands every accepted item to the presence engine.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"teamclaude/internal/metrics"
	"teamclaude/internal/model"
)

type EventStore interface {
	// Save stores ev unless (tenantID, eventID) was already seen. The check
	// and the write are one atomic step.
	Save(ctx context.Context, ev model.IngestEvent) (bool, error)
	HasEventID(ctx context.Context, tenantID, eventID string) (bool, error)
	ListByTenant(ctx context.Context, tenantID string) ([]model.IngestEvent, error)
	ListByTenantUser(ctx context.Context, tenantID, userID string) ([]model.IngestEvent, error)
}

type PresenceTrigger interface {
	OnEvent(ctx context.Context, tenantID, userID string, at time.Time) error
}

// ValidationError is a client error; retrying the same payload fails again.
type ValidationError struct {
	Index int // -1 for request-level problems
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Msg
	}
	return fmt.Sprintf("item %d: %s", e.Index, e.Msg)
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindTimestamp
)

var allowedFields = map[string]fieldKind{
	"eventId":     kindString,
	"tenantId":    kindString,
	"userId":      kindString,
	"deviceId":    kindString,
	"eventType":   kindString,
	"ts":          kindTimestamp,
	"durationMs":  kindNumber,
	"tokenUsage":  kindNumber,
	"projectHash": kindString,
}

// AllowedFields lists the keys an event may carry, sorted.
func AllowedFields() []string {
	keys := make([]string, 0, len(allowedFields))
	for k := range allowedFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Ack struct {
	Accepted   bool                `json:"accepted"`
	TenantID   string              `json:"tenantId"`
	UserID     string              `json:"userId"`
	Count      int                 `json:"count"`
	Duplicates int                 `json:"duplicates"`
	Events     []model.IngestEvent `json:"events"`
}

type Service struct {
	events   EventStore
	presence PresenceTrigger
	now      func() time.Time
}

func NewService(events EventStore, presence PresenceTrigger) *Service {
	return &Service{events: events, presence: presence, now: time.Now}
}

// Ingest accepts one event object or an array of them. The whole request is
// validated first; a single bad item rejects the request with nothing stored
// and no presence update.
//
// A duplicate (tenant, eventId) skips the raw write but is still acknowledged
// and still triggers one presence update.
func (s *Service) Ingest(ctx context.Context, tc model.TenantContext, raw []byte) (Ack, error) {
	if tc.TenantID == "" || tc.UserID == "" {
		return Ack{}, fmt.Errorf("ingest: tenant context is incomplete")
	}

	items, err := splitItems(raw)
	if err != nil {
		metrics.IngestRejected.Inc()
		return Ack{}, err
	}

	events := make([]model.IngestEvent, 0, len(items))
	for i, item := range items {
		ev, err := decodeItem(i, item, tc)
		if err != nil {
			metrics.IngestRejected.Inc()
			return Ack{}, err
		}
		events = append(events, ev)
	}

	ack := Ack{
		Accepted: true,
		TenantID: tc.TenantID,
		UserID:   tc.UserID,
		Events:   events,
	}
	for _, ev := range events {
		inserted, err := s.events.Save(ctx, ev)
		if err != nil {
			return Ack{}, fmt.Errorf("ingest: store event %s: %w", ev.Scoped(), err)
		}
		if inserted {
			metrics.EventsIngested.WithLabelValues("stored").Inc()
		} else {
			ack.Duplicates++
			metrics.EventsIngested.WithLabelValues("duplicate").Inc()
		}
		if err := s.presence.OnEvent(ctx, tc.TenantID, tc.UserID, s.now()); err != nil {
			return Ack{}, fmt.Errorf("ingest: presence update for %s: %w", ev.Scoped(), err)
		}
		ack.Count++
	}
	return ack, nil
}

func splitItems(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ValidationError{Index: -1, Msg: "empty payload"}
	}
	switch trimmed[0] {
	case '{':
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &ValidationError{Index: -1, Msg: "payload is not valid JSON"}
		}
		if len(items) == 0 {
			return nil, &ValidationError{Index: -1, Msg: "empty batch"}
		}
		return items, nil
	default:
		return nil, &ValidationError{Index: -1, Msg: "payload must be an object or an array of objects"}
	}
}

func decodeItem(index int, item json.RawMessage, tc model.TenantContext) (model.IngestEvent, error) {
	invalid := func(format string, args ...any) error {
		return &ValidationError{Index: index, Msg: fmt.Sprintf(format, args...)}
	}

	trimmed := bytes.TrimSpace(item)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.IngestEvent{}, invalid("event must be an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return model.IngestEvent{}, invalid("event is not valid JSON")
	}

	strs := make(map[string]*string)
	nums := make(map[string]*float64)
	for key, value := range fields {
		kind, ok := allowedFields[key]
		if !ok {
			return model.IngestEvent{}, invalid("field %q is not allowed", key)
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		switch kind {
		case kindString, kindTimestamp:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return model.IngestEvent{}, invalid("field %q must be a string", key)
			}
			if kind == kindTimestamp {
				if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
					return model.IngestEvent{}, invalid("field %q must be an RFC 3339 timestamp", key)
				}
			}
			strs[key] = &s
		case kindNumber:
			var n float64
			if err := json.Unmarshal(value, &n); err != nil {
				return model.IngestEvent{}, invalid("field %q must be a number", key)
			}
			nums[key] = &n
		}
	}

	eventID := strs["eventId"]
	if eventID == nil || strings.TrimSpace(*eventID) == "" {
		return model.IngestEvent{}, invalid("eventId is required")
	}
	if t := strs["tenantId"]; t != nil && *t != tc.TenantID {
		return model.IngestEvent{}, invalid("tenantId does not match the authenticated tenant")
	}
	if u := strs["userId"]; u != nil && *u != tc.UserID {
		return model.IngestEvent{}, invalid("userId does not match the authenticated user")
	}

	return model.IngestEvent{
		EventID:     *eventID,
		TenantID:    tc.TenantID,
		UserID:      tc.UserID,
		DeviceID:    strs["deviceId"],
		EventType:   strs["eventType"],
		TS:          strs["ts"],
		DurationMs:  nums["durationMs"],
		TokenUsage:  nums["tokenUsage"],
		ProjectHash: strs["projectHash"],
	}, nil
}
