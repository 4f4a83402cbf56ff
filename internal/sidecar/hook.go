package sidecar

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var ErrMissingEventID = errors.New("eventId is required")

// HookInput is the subset of an editor hook payload the sidecar reads.
// Prompts, tool inputs and file contents are never decoded.
type HookInput struct {
	SessionID     string `json:"session_id"`
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name"`
	CWD           string `json:"cwd"`
}

const (
	EventTypeChat    = "chat"
	EventTypeCommand = "command"
	EventTypeCodegen = "codegen"
)

func hookEventType(in HookInput) (string, bool) {
	switch in.HookEventName {
	case "UserPromptSubmit":
		return EventTypeChat, true
	case "PostToolUse":
		switch in.ToolName {
		case "Bash":
			return EventTypeCommand, true
		case "Edit", "Write", "MultiEdit":
			return EventTypeCodegen, true
		}
	}
	return "", false
}

// MapHook turns a hook payload into an event. ok is false for hooks that do
// not represent user activity.
func MapHook(in HookInput, deviceID string, now time.Time) (Event, bool) {
	eventType, ok := hookEventType(in)
	if !ok {
		return Event{}, false
	}
	session := in.SessionID
	if session == "" {
		session = "nosession"
	}
	return Event{
		EventID:     session + ":" + uuid.NewString(),
		DeviceID:    deviceID,
		EventType:   eventType,
		TS:          now.UTC().Format(time.RFC3339Nano),
		ProjectHash: ProjectHash(in.CWD),
	}, true
}

// ProjectHash is a stable opaque id for a working directory, so the server
// can group activity by project without seeing its path.
func ProjectHash(dir string) string {
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(dir))
	return hex.EncodeToString(sum[:16])
}

// AdaptEvent keeps the allow-listed fields of an arbitrary JSON object and
// silently drops everything else, including allow-listed keys of the wrong
// type.
func AdaptEvent(raw []byte) (Event, error) {
	var input map[string]json.RawMessage
	if err := json.Unmarshal(raw, &input); err != nil {
		return Event{}, fmt.Errorf("adapt event: %w", err)
	}

	str := func(key string) string {
		var s string
		if v, ok := input[key]; ok && json.Unmarshal(v, &s) == nil {
			return s
		}
		return ""
	}
	num := func(key string) *float64 {
		var n *float64
		if v, ok := input[key]; ok && json.Unmarshal(v, &n) == nil {
			return n
		}
		return nil
	}

	ev := Event{
		EventID:     str("eventId"),
		TenantID:    str("tenantId"),
		UserID:      str("userId"),
		DeviceID:    str("deviceId"),
		EventType:   str("eventType"),
		TS:          str("ts"),
		DurationMs:  num("durationMs"),
		TokenUsage:  num("tokenUsage"),
		ProjectHash: str("projectHash"),
	}
	if strings.TrimSpace(ev.EventID) == "" {
		return Event{}, ErrMissingEventID
	}
	return ev, nil
}
