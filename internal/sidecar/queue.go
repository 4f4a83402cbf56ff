package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Event is one queued activity signal. It carries the same allow-listed
// fields the ingest endpoint accepts; identity fields are optional since the
// server stamps them from credentials.
type Event struct {
	EventID     string   `json:"eventId"`
	TenantID    string   `json:"tenantId,omitempty"`
	UserID      string   `json:"userId,omitempty"`
	DeviceID    string   `json:"deviceId,omitempty"`
	EventType   string   `json:"eventType,omitempty"`
	TS          string   `json:"ts,omitempty"`
	DurationMs  *float64 `json:"durationMs,omitempty"`
	TokenUsage  *float64 `json:"tokenUsage,omitempty"`
	ProjectHash string   `json:"projectHash,omitempty"`
}

// IntegrityError reports an unreadable record in the queue file. The file is
// left untouched when it is returned.
type IntegrityError struct {
	Path string
	Line int
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("queue %s: corrupt record on line %d: %v", e.Path, e.Line, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

type FlushResult struct {
	Sent      int `json:"sent"`
	Remaining int `json:"remaining"`
}

type Sender func(ctx context.Context, ev Event) error

// BatchSender delivers a whole snapshot at once; it succeeds or fails as a
// unit.
type BatchSender func(ctx context.Context, evs []Event) error

// Queue is an append-only NDJSON log on local disk.
//
// mu guards the file itself and is never held while a sender runs. flushMu
// serializes flushes so two flushes never deliver the same snapshot.
type Queue struct {
	path string

	mu      sync.Mutex
	flushMu sync.Mutex
}

func NewQueue(path string) *Queue {
	return &Queue{path: path}
}

func (q *Queue) Path() string { return q.path }

// Enqueue appends ev and fsyncs before returning.
func (q *Queue) Enqueue(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(ev.EventID) == "" {
		return ErrMissingEventID
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: encode event: %w", err)
	}
	line = append(line, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return fmt.Errorf("queue: mkdir: %w", err)
	}
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("queue: open: %w", err)
	}
	defer f.Close()

	// A file edited by hand may lack its final newline.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			line = append([]byte{'\n'}, line...)
		}
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("queue: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("queue: sync: %w", err)
	}
	return nil
}

type queuedLine struct {
	raw   []byte
	event Event
}

// Flush delivers, in order, the events that were in the file when Flush was
// called. Delivered events are removed; failed ones stay, in order, ahead of
// anything appended while the flush was running. Remaining counts the
// snapshot events that were kept.
//
// A corrupt record aborts the flush before anything is sent.
func (q *Queue) Flush(ctx context.Context, send Sender) (FlushResult, error) {
	return q.flush(ctx, func(ctx context.Context, lines []queuedLine) []queuedLine {
		var kept []queuedLine
		for _, l := range lines {
			if ctx.Err() == nil && send(ctx, l.event) == nil {
				continue
			}
			kept = append(kept, l)
		}
		return kept
	})
}

// FlushBatch is Flush with the snapshot sent as one request. Either every
// snapshot event is removed or all of them are kept.
func (q *Queue) FlushBatch(ctx context.Context, send BatchSender) (FlushResult, error) {
	return q.flush(ctx, func(ctx context.Context, lines []queuedLine) []queuedLine {
		if ctx.Err() != nil {
			return lines
		}
		evs := make([]Event, len(lines))
		for i, l := range lines {
			evs[i] = l.event
		}
		if err := send(ctx, evs); err != nil {
			return lines
		}
		return nil
	})
}

// flush snapshots the file, lets deliver decide which lines to keep, then
// rewrites the file as the kept lines followed by whatever was appended
// meanwhile.
func (q *Queue) flush(ctx context.Context, deliver func(context.Context, []queuedLine) []queuedLine) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	snapshot, err := q.readLocked()
	q.mu.Unlock()
	if err != nil {
		return FlushResult{}, err
	}

	lines, err := parseLines(q.path, snapshot)
	if err != nil {
		return FlushResult{}, err
	}
	if len(lines) == 0 {
		return FlushResult{}, nil
	}

	keptLines := deliver(ctx, lines)
	result := FlushResult{Sent: len(lines) - len(keptLines), Remaining: len(keptLines)}
	var kept bytes.Buffer
	for _, l := range keptLines {
		kept.Write(l.raw)
		kept.WriteByte('\n')
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.readLocked()
	if err != nil {
		return result, err
	}
	if len(current) > len(snapshot) {
		tail := current[len(snapshot):]
		if len(snapshot) > 0 && snapshot[len(snapshot)-1] != '\n' {
			tail = bytes.TrimPrefix(tail, []byte{'\n'})
		}
		kept.Write(tail)
	}
	if err := writeFileAtomic(q.path, kept.Bytes()); err != nil {
		return result, err
	}
	return result, nil
}

// Len reports the number of records currently in the file.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	data, err := q.readLocked()
	q.mu.Unlock()
	if err != nil {
		return 0, err
	}
	lines, err := parseLines(q.path, data)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

func (q *Queue) readLocked() ([]byte, error) {
	f, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("queue: read: %w", err)
	}
	return data, nil
}

func parseLines(path string, data []byte) ([]queuedLine, error) {
	var out []queuedLine
	for i, raw := range bytes.Split(data, []byte{'\n'}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, &IntegrityError{Path: path, Line: i + 1, Err: err}
		}
		// null and {} decode cleanly but can never be delivered.
		if strings.TrimSpace(ev.EventID) == "" {
			return nil, &IntegrityError{Path: path, Line: i + 1, Err: ErrMissingEventID}
		}
		out = append(out, queuedLine{raw: raw, event: ev})
	}
	return out, nil
}

// writeFileAtomic replaces path with data via a synced temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("queue: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("queue: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("queue: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("queue: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("queue: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("queue: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("queue: rename: %w", err)
	}
	return nil
}
