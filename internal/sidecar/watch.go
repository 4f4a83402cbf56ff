package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchOptions struct {
	// Debounce groups bursts of appends into one flush.
	Debounce time.Duration
	// Interval is how often to heartbeat and retry events left over from a
	// failed flush.
	Interval time.Duration
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	return o
}

// Watch flushes the queue whenever another process appends to it, and on
// every Interval. It returns when ctx is done or a flush hits a corrupt
// record.
//
// Only Write events trigger a flush. A flush replaces the file by rename,
// which shows up as Create, so a failing server never causes a flush loop.
func (s *Sidecar) Watch(ctx context.Context, opts WatchOptions) error {
	opts = opts.withDefaults()

	dir := filepath.Dir(s.Queue.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("watch: mkdir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	// The queue file itself is replaced on every flush, so watch its directory.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch add %s: %w", dir, err)
	}

	flush := func() error {
		_, err := s.Flush(ctx)
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			return err
		}
		if err != nil && ctx.Err() == nil {
			s.logger().Warn("flush failed", "error", err)
		}
		return nil
	}

	if err := flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	var debounce <-chan time.Time

	target := filepath.Clean(s.Queue.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target && ev.Has(fsnotify.Write) && debounce == nil {
				debounce = time.After(opts.Debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger().Warn("queue watcher error", "error", err)
		case <-debounce:
			debounce = nil
			if err := flush(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}
