// Package presence tracks a Coding/Idle/Offline state per (tenant, user) and
// emits a StateChange whenever that state moves.
//
// Three paths write a record: OnEvent, OnHeartbeat and Tick. Each holds the
// record's lock across read, write and emit, so a subscriber never sees a
// change for a partially applied update. Records of different users never
// share a critical section beyond lock-stripe collisions.
package presence

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"teamclaude/internal/metrics"
	"teamclaude/internal/model"
)

type Store interface {
	Get(ctx context.Context, tenantID, userID string) (model.PresenceRecord, bool, error)
	// Put writes the record and resets its TTL.
	Put(ctx context.Context, rec model.PresenceRecord, ttl time.Duration) error
	// SetState changes only the state and keeps the current TTL.
	SetState(ctx context.Context, tenantID, userID string, state model.PresenceState) (bool, error)
	Scan(ctx context.Context, cursor, prefix string, limit int) ([]model.PresenceRecord, string, error)
}

type Broadcaster interface {
	OnStateChanged(change model.StateChange)
}

type Options struct {
	Thresholds Thresholds
	RecordTTL  time.Duration
	ScanBatch  int
	Now        func() time.Time
}

const lockStripes = 64

type Engine struct {
	store      Store
	thresholds Thresholds
	recordTTL  time.Duration
	scanBatch  int
	now        func() time.Time

	bmu         sync.RWMutex
	broadcaster Broadcaster

	locks [lockStripes]sync.Mutex
}

func NewEngine(store Store, opts Options) *Engine {
	if opts.Thresholds.IdleAfter <= 0 {
		opts.Thresholds.IdleAfter = DefaultIdleAfter
	}
	if opts.Thresholds.OfflineAfter <= 0 {
		opts.Thresholds.OfflineAfter = DefaultOfflineAfter
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = DefaultRecordTTL
	}
	if opts.ScanBatch <= 0 {
		opts.ScanBatch = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:      store,
		thresholds: opts.Thresholds,
		recordTTL:  opts.RecordTTL,
		scanBatch:  opts.ScanBatch,
		now:        opts.Now,
	}
}

// RegisterBroadcaster sets the single consumer of state changes, replacing
// any previous one.
func (e *Engine) RegisterBroadcaster(b Broadcaster) {
	e.bmu.Lock()
	defer e.bmu.Unlock()
	e.broadcaster = b
}

func (e *Engine) lockFor(tenantID, userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(model.PresenceKey(tenantID, userID)))
	return &e.locks[h.Sum32()%lockStripes]
}

// OnEvent records activity at `at` (zero means now). An event always sets
// Coding directly; it is not run through ComputeState.
func (e *Engine) OnEvent(ctx context.Context, tenantID, userID string, at time.Time) error {
	if at.IsZero() {
		at = e.now()
	}

	mu := e.lockFor(tenantID, userID)
	mu.Lock()
	defer mu.Unlock()

	rec, prevState, err := e.load(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	rec.LastEventAt = &at
	rec.State = model.StateCoding

	if err := e.store.Put(ctx, rec, e.recordTTL); err != nil {
		return fmt.Errorf("presence: save %s: %w", model.PresenceKey(tenantID, userID), err)
	}
	e.emitIfChanged(rec, prevState, at)
	return nil
}

// OnHeartbeat records liveness at `at` (zero means now) and recomputes the state.
func (e *Engine) OnHeartbeat(ctx context.Context, tenantID, userID string, at time.Time) error {
	if at.IsZero() {
		at = e.now()
	}

	mu := e.lockFor(tenantID, userID)
	mu.Lock()
	defer mu.Unlock()

	rec, prevState, err := e.load(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	rec.LastHeartbeatAt = &at
	rec.State = ComputeState(rec, at, e.thresholds)

	if err := e.store.Put(ctx, rec, e.recordTTL); err != nil {
		return fmt.Errorf("presence: save %s: %w", model.PresenceKey(tenantID, userID), err)
	}
	e.emitIfChanged(rec, prevState, at)
	return nil
}

// load returns the stored record, or a fresh Offline one when the key is
// missing or expired, together with the state to compare against.
func (e *Engine) load(ctx context.Context, tenantID, userID string) (model.PresenceRecord, model.PresenceState, error) {
	rec, ok, err := e.store.Get(ctx, tenantID, userID)
	if err != nil {
		return model.PresenceRecord{}, "", fmt.Errorf("presence: load %s: %w", model.PresenceKey(tenantID, userID), err)
	}
	if !ok {
		rec = model.PresenceRecord{State: model.StateOffline}
	}
	if !rec.State.Valid() {
		rec.State = model.StateOffline
	}
	rec.TenantID = tenantID
	rec.UserID = userID
	return rec, rec.State, nil
}

type TickResult struct {
	Visited int
	Changed int
}

// Tick recomputes every tracked record at now. Records are visited page by
// page through the store's cursor scan; each one is re-read under its lock
// so a concurrent OnEvent or OnHeartbeat is never overwritten with a stale
// state. Tick does not refresh record TTLs.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	var result TickResult
	cursor := ""
	for {
		records, next, err := e.store.Scan(ctx, cursor, model.PresenceKeyPrefix, e.scanBatch)
		if err != nil {
			return result, fmt.Errorf("presence: scan: %w", err)
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if rec.TenantID == "" || rec.UserID == "" {
				continue
			}
			changed, err := e.tickRecord(ctx, rec.TenantID, rec.UserID, now)
			if err != nil {
				return result, err
			}
			result.Visited++
			if changed {
				result.Changed++
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	metrics.TickRecords.Add(float64(result.Visited))
	return result, nil
}

func (e *Engine) tickRecord(ctx context.Context, tenantID, userID string, now time.Time) (bool, error) {
	mu := e.lockFor(tenantID, userID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := e.store.Get(ctx, tenantID, userID)
	if err != nil {
		return false, fmt.Errorf("presence: load %s: %w", model.PresenceKey(tenantID, userID), err)
	}
	if !ok {
		return false, nil
	}

	prevState := rec.State
	if !prevState.Valid() {
		prevState = model.StateOffline
	}
	next := ComputeState(rec, now, e.thresholds)
	if next == prevState {
		return false, nil
	}

	updated, err := e.store.SetState(ctx, tenantID, userID, next)
	if err != nil {
		return false, fmt.Errorf("presence: update %s: %w", model.PresenceKey(tenantID, userID), err)
	}
	if !updated {
		return false, nil
	}
	rec.State = next
	e.emitIfChanged(rec, prevState, now)
	return true, nil
}

func (e *Engine) emitIfChanged(rec model.PresenceRecord, prevState model.PresenceState, at time.Time) {
	if rec.State == prevState {
		return
	}
	metrics.PresenceTransitions.WithLabelValues(string(rec.State)).Inc()

	e.bmu.RLock()
	b := e.broadcaster
	e.bmu.RUnlock()
	if b == nil {
		return
	}
	b.OnStateChanged(model.StateChange{
		TenantID:   rec.TenantID,
		UserID:     rec.UserID,
		State:      rec.State,
		OccurredAt: at.UTC(),
	})
}

// State reports the current stored state; a missing record is Offline.
func (e *Engine) State(ctx context.Context, tenantID, userID string) (model.PresenceState, error) {
	rec, ok, err := e.store.Get(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	if !ok || !rec.State.Valid() {
		return model.StateOffline, nil
	}
	return rec.State, nil
}

// Snapshot lists the live records of one tenant.
func (e *Engine) Snapshot(ctx context.Context, tenantID string) ([]model.PresenceRecord, error) {
	result := make([]model.PresenceRecord, 0)
	cursor := ""
	for {
		records, next, err := e.store.Scan(ctx, cursor, model.PresenceTenantPrefix(tenantID), e.scanBatch)
		if err != nil {
			return nil, err
		}
		result = append(result, records...)
		if next == "" {
			return result, nil
		}
		cursor = next
	}
}
