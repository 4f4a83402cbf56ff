package presence

import (
	"time"

	"teamclaude/internal/model"
)

const (
	DefaultIdleAfter    = 5 * time.Minute
	DefaultOfflineAfter = 15 * time.Minute
	DefaultRecordTTL    = 20 * time.Minute
)

type Thresholds struct {
	IdleAfter    time.Duration
	OfflineAfter time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{IdleAfter: DefaultIdleAfter, OfflineAfter: DefaultOfflineAfter}
}

// ComputeState derives the state of rec at now. A stale heartbeat is an
// absolute ceiling: it forces Offline however recent the last event is.
func ComputeState(rec model.PresenceRecord, now time.Time, th Thresholds) model.PresenceState {
	if rec.LastHeartbeatAt != nil && now.Sub(*rec.LastHeartbeatAt) > th.OfflineAfter {
		return model.StateOffline
	}
	if rec.LastEventAt != nil {
		if now.Sub(*rec.LastEventAt) <= th.IdleAfter {
			return model.StateCoding
		}
		return model.StateIdle
	}
	return model.StateOffline
}
