// Package sidecar runs next to the editor: it turns hook payloads into
// events, keeps them in a durable local queue and delivers them to the
// ingest endpoint when the network allows.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

type Sidecar struct {
	Queue    *Queue
	Reporter *Reporter
	Identity Identity
	DeviceID string
	// Batch sends the whole queue as one request instead of one request per
	// event.
	Batch  bool
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Sidecar) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Sidecar) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// EnqueuePayload queues one JSON payload read from a hook. Editor hook
// payloads are mapped by MapHook; anything else must already look like an
// event and is reduced to its allow-listed fields. queued is false when the
// hook does not describe user activity.
func (s *Sidecar) EnqueuePayload(ctx context.Context, raw []byte) (queued bool, err error) {
	var hook HookInput
	if err := json.Unmarshal(raw, &hook); err != nil {
		return false, fmt.Errorf("sidecar: decode payload: %w", err)
	}

	var ev Event
	if hook.HookEventName != "" {
		mapped, ok := MapHook(hook, s.DeviceID, s.now())
		if !ok {
			s.logger().Debug("ignoring hook", "hook", hook.HookEventName, "tool", hook.ToolName)
			return false, nil
		}
		ev = mapped
	} else {
		ev, err = AdaptEvent(raw)
		if err != nil {
			return false, fmt.Errorf("sidecar: %w", err)
		}
	}

	if err := s.Queue.Enqueue(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}

// Flush delivers the queue and then sends a heartbeat. A failed heartbeat is
// logged and does not fail the flush.
func (s *Sidecar) Flush(ctx context.Context) (FlushResult, error) {
	var (
		result FlushResult
		err    error
	)
	if s.Batch {
		result, err = s.Queue.FlushBatch(ctx, func(ctx context.Context, evs []Event) error {
			return s.Reporter.ReportEvents(ctx, evs, s.Identity)
		})
	} else {
		result, err = s.Queue.Flush(ctx, func(ctx context.Context, ev Event) error {
			return s.Reporter.ReportEvent(ctx, ev, s.Identity)
		})
	}
	if err != nil {
		return result, err
	}
	s.logger().Info("queue flushed", "sent", result.Sent, "remaining", result.Remaining)

	if err := s.Reporter.Heartbeat(ctx, s.Identity); err != nil {
		s.logger().Warn("heartbeat failed", "error", err)
	}
	return result, nil
}
