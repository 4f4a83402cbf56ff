package model

import (
	"strings"
	"time"
)

// IngestEvent is a stored activity signal. Only allow-listed fields exist on
// this type; there is no free-form payload.
type IngestEvent struct {
	EventID     string   `json:"eventId"`
	TenantID    string   `json:"tenantId"`
	UserID      string   `json:"userId"`
	DeviceID    *string  `json:"deviceId,omitempty"`
	EventType   *string  `json:"eventType,omitempty"`
	TS          *string  `json:"ts,omitempty"`
	DurationMs  *float64 `json:"durationMs,omitempty"`
	TokenUsage  *float64 `json:"tokenUsage,omitempty"`
	ProjectHash *string  `json:"projectHash,omitempty"`
}

func (e IngestEvent) Scoped() ScopedEventID {
	return ScopedEventID{TenantID: e.TenantID, EventID: e.EventID}
}

// ScopedEventID is the dedup key. Event ids are only unique within a tenant.
type ScopedEventID struct {
	TenantID string
	EventID  string
}

func (s ScopedEventID) String() string {
	return s.TenantID + ":" + s.EventID
}

type PresenceState string

const (
	StateCoding  PresenceState = "Coding"
	StateIdle    PresenceState = "Idle"
	StateOffline PresenceState = "Offline"
)

func (s PresenceState) Valid() bool {
	switch s {
	case StateCoding, StateIdle, StateOffline:
		return true
	}
	return false
}

type PresenceRecord struct {
	TenantID        string        `json:"tenantId"`
	UserID          string        `json:"userId"`
	State           PresenceState `json:"state"`
	LastEventAt     *time.Time    `json:"lastEventAt,omitempty"`
	LastHeartbeatAt *time.Time    `json:"lastHeartbeatAt,omitempty"`
}

// PresenceKey is the storage key of a presence record. Both parts are
// escaped so ids containing ':' map to distinct keys.
func PresenceKey(tenantID, userID string) string {
	return PresenceTenantPrefix(tenantID) + keyPart.Replace(userID)
}

// PresenceTenantPrefix matches every presence key of one tenant and no other.
func PresenceTenantPrefix(tenantID string) string {
	return PresenceKeyPrefix + keyPart.Replace(tenantID) + ":"
}

var keyPart = strings.NewReplacer("%", "%25", ":", "%3A")

const PresenceKeyPrefix = "presence:user:"

// StateChange is emitted whenever a record's presence state changes.
type StateChange struct {
	TenantID   string        `json:"tenantId"`
	UserID     string        `json:"userId"`
	State      PresenceState `json:"state"`
	OccurredAt time.Time     `json:"occurredAt"`
}

type ContextSource string

const (
	SourceSession ContextSource = "session"
	SourceBearer  ContextSource = "bearer"
	SourceHeaders ContextSource = "headers"
)

// TenantContext is the trusted identity of a request. It is derived from
// credentials, never from the request body.
type TenantContext struct {
	TenantID string
	UserID   string
	Source   ContextSource
}
