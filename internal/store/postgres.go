package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"teamclaude/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresEventStore persists raw events and the dedup index in Postgres.
// The dedup index is a separate table keyed by (tenant_id, event_id) whose
// rows count as live for dedupTTL after created_at.
type PostgresEventStore struct {
	pool     *pgxpool.Pool
	dedupTTL time.Duration
	now      func() time.Time
}

// NewPostgresEventStore connects and fails fast if the database is unreachable.
func NewPostgresEventStore(ctx context.Context, dbURL string, dedupTTL time.Duration) (*PostgresEventStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &PostgresEventStore{pool: pool, dedupTTL: dedupTTL, now: time.Now}, nil
}

func (p *PostgresEventStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

func (p *PostgresEventStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresEventStore) Close() {
	p.pool.Close()
}

// Save claims the dedup row and writes the raw event in one transaction.
// A concurrent insert of the same scoped id blocks on the primary key and
// then sees the conflict, so only one raw row is written.
func (p *PostgresEventStore) Save(ctx context.Context, ev model.IngestEvent) (bool, error) {
	if ev.TenantID == "" || ev.UserID == "" || ev.EventID == "" {
		return false, errors.New("tenantID/userID/eventID required")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := p.now().UTC()
	if _, err := tx.Exec(ctx, `
		DELETE FROM events_dedup
		WHERE tenant_id=$1 AND event_id=$2 AND created_at <= $3
	`, ev.TenantID, ev.EventID, now.Add(-p.dedupTTL)); err != nil {
		return false, fmt.Errorf("expire dedup entry: %w", err)
	}

	var one int
	err = tx.QueryRow(ctx, `
		INSERT INTO events_dedup(tenant_id, event_id, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (tenant_id, event_id) DO NOTHING
		RETURNING 1
	`, ev.TenantID, ev.EventID, now).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, tx.Commit(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("claim dedup entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO events_raw(tenant_id, user_id, event_id, device_id, event_type, ts, duration_ms, token_usage, project_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ev.TenantID, ev.UserID, ev.EventID, ev.DeviceID, ev.EventType, ev.TS, ev.DurationMs, ev.TokenUsage, ev.ProjectHash); err != nil {
		return false, fmt.Errorf("insert raw event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PostgresEventStore) HasEventID(ctx context.Context, tenantID, eventID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events_dedup
			WHERE tenant_id=$1 AND event_id=$2 AND created_at > $3
		)
	`, tenantID, eventID, p.now().UTC().Add(-p.dedupTTL)).Scan(&exists)
	return exists, err
}

const selectRawEvents = `
	SELECT event_id, tenant_id, user_id, device_id, event_type, ts, duration_ms, token_usage, project_hash
	FROM events_raw
`

func (p *PostgresEventStore) ListByTenant(ctx context.Context, tenantID string) ([]model.IngestEvent, error) {
	return p.list(ctx, selectRawEvents+` WHERE tenant_id=$1 ORDER BY id`, tenantID)
}

func (p *PostgresEventStore) ListByTenantUser(ctx context.Context, tenantID, userID string) ([]model.IngestEvent, error) {
	return p.list(ctx, selectRawEvents+` WHERE tenant_id=$1 AND user_id=$2 ORDER BY id`, tenantID, userID)
}

func (p *PostgresEventStore) list(ctx context.Context, query string, args ...any) ([]model.IngestEvent, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.IngestEvent, 0)
	for rows.Next() {
		var ev model.IngestEvent
		if err := rows.Scan(
			&ev.EventID, &ev.TenantID, &ev.UserID, &ev.DeviceID, &ev.EventType,
			&ev.TS, &ev.DurationMs, &ev.TokenUsage, &ev.ProjectHash,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (p *PostgresEventStore) PruneExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM events_dedup WHERE created_at <= $1`, p.now().UTC().Add(-p.dedupTTL))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
