package sidecar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(filepath.Join(t.TempDir(), "nested", "queue.ndjson"))
}

func readQueueFile(t *testing.T, q *Queue) string {
	t.Helper()
	data, err := os.ReadFile(q.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read queue: %v", err)
	}
	return string(data)
}

func enqueueIDs(t *testing.T, q *Queue, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := q.Enqueue(context.Background(), Event{EventID: id}); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}
}

func TestQueue_EnqueueIsDurableNDJSON(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a", "b")

	got := readQueueFile(t, q)
	want := "{\"eventId\":\"a\"}\n{\"eventId\":\"b\"}\n"
	if got != want {
		t.Fatalf("unexpected file content %q", got)
	}
	info, err := os.Stat(q.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestQueue_FlushEmpty(t *testing.T) {
	q := newTestQueue(t)
	res, err := q.Flush(context.Background(), func(context.Context, Event) error {
		t.Fatalf("sender must not be called")
		return nil
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res != (FlushResult{}) {
		t.Fatalf("expected zero result, got %+v", res)
	}
}

func TestQueue_FailedSendRetainsThenSucceeds(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a", "b")
	before := readQueueFile(t, q)

	res, err := q.Flush(context.Background(), func(context.Context, Event) error {
		return errors.New("offline")
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Sent != 0 || res.Remaining != 2 {
		t.Fatalf("expected 0 sent 2 remaining, got %+v", res)
	}
	if after := readQueueFile(t, q); after != before {
		t.Fatalf("expected file unchanged, got %q", after)
	}

	var delivered []string
	res, err = q.Flush(context.Background(), func(_ context.Context, ev Event) error {
		delivered = append(delivered, ev.EventID)
		return nil
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Sent != 2 || res.Remaining != 0 {
		t.Fatalf("expected 2 sent 0 remaining, got %+v", res)
	}
	if strings.Join(delivered, ",") != "a,b" {
		t.Fatalf("expected in-order delivery, got %v", delivered)
	}
	if got := readQueueFile(t, q); got != "" {
		t.Fatalf("expected empty file, got %q", got)
	}
}

func TestQueue_PartialFailureKeepsOrder(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a", "b", "c", "d")

	res, err := q.Flush(context.Background(), func(_ context.Context, ev Event) error {
		if ev.EventID == "b" || ev.EventID == "d" {
			return errors.New("rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Sent != 2 || res.Remaining != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := "{\"eventId\":\"b\"}\n{\"eventId\":\"d\"}\n"
	if got := readQueueFile(t, q); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestQueue_EnqueueDuringFlushIsKeptForNextFlush(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a", "b")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var delivered []string

	done := make(chan FlushResult)
	go func() {
		res, err := q.Flush(context.Background(), func(_ context.Context, ev Event) error {
			once.Do(func() {
				close(entered)
				<-release
			})
			delivered = append(delivered, ev.EventID)
			return nil
		})
		if err != nil {
			t.Errorf("Flush: %v", err)
		}
		done <- res
	}()

	<-entered
	// Enqueue must not wait for the sender.
	enqueueIDs(t, q, "c")
	close(release)
	res := <-done

	if res.Sent != 2 || res.Remaining != 0 {
		t.Fatalf("expected first flush to send only its snapshot, got %+v", res)
	}
	if strings.Join(delivered, ",") != "a,b" {
		t.Fatalf("unexpected delivery %v", delivered)
	}
	if got := readQueueFile(t, q); got != "{\"eventId\":\"c\"}\n" {
		t.Fatalf("expected late event retained, got %q", got)
	}

	delivered = nil
	res, err := q.Flush(context.Background(), func(_ context.Context, ev Event) error {
		delivered = append(delivered, ev.EventID)
		return nil
	})
	if err != nil || res.Sent != 1 || delivered[0] != "c" {
		t.Fatalf("expected second flush to send c, got %+v %v err=%v", res, delivered, err)
	}
}

func TestQueue_RetainedEventsPrecedeLateEvents(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a")

	_, err := q.Flush(context.Background(), func(context.Context, Event) error {
		enqueueIDs(t, q, "late")
		return errors.New("offline")
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := "{\"eventId\":\"a\"}\n{\"eventId\":\"late\"}\n"
	if got := readQueueFile(t, q); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestQueue_CorruptRecordFailsFast(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a")
	f, err := os.OpenFile(q.Path(), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()
	enqueueIDs(t, q, "b")
	before := readQueueFile(t, q)

	calls := 0
	res, err := q.Flush(context.Background(), func(context.Context, Event) error {
		calls++
		return nil
	})

	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if integrity.Line != 2 {
		t.Fatalf("expected line 2, got %d", integrity.Line)
	}
	if calls != 0 || res.Sent != 0 {
		t.Fatalf("expected nothing sent, got calls=%d res=%+v", calls, res)
	}
	if after := readQueueFile(t, q); after != before {
		t.Fatalf("expected byte-identical file")
	}
}

func TestQueue_RecordWithoutEventIDIsCorrupt(t *testing.T) {
	for _, bad := range []string{"null", "{}", `{"eventId":"  "}`} {
		q := newTestQueue(t)
		enqueueIDs(t, q, "a")
		f, err := os.OpenFile(q.Path(), os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		_, _ = f.WriteString(bad + "\n")
		_ = f.Close()
		before := readQueueFile(t, q)

		calls := 0
		_, err = q.Flush(context.Background(), func(context.Context, Event) error {
			calls++
			return nil
		})

		var integrity *IntegrityError
		if !errors.As(err, &integrity) || !errors.Is(err, ErrMissingEventID) {
			t.Fatalf("%s: expected IntegrityError for missing eventId, got %v", bad, err)
		}
		if integrity.Line != 2 {
			t.Fatalf("%s: expected line 2, got %d", bad, integrity.Line)
		}
		if calls != 0 {
			t.Fatalf("%s: expected nothing sent, got %d", bad, calls)
		}
		if after := readQueueFile(t, q); after != before {
			t.Fatalf("%s: expected byte-identical file", bad)
		}
	}
}

func TestQueue_EnqueueRejectsMissingEventID(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Enqueue(context.Background(), Event{EventType: "chat"}); !errors.Is(err, ErrMissingEventID) {
		t.Fatalf("expected ErrMissingEventID, got %v", err)
	}
	if got := readQueueFile(t, q); got != "" {
		t.Fatalf("expected no file content, got %q", got)
	}
}

func TestQueue_FlushBatchIsAllOrNothing(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a", "b", "c")

	var got []string
	res, err := q.FlushBatch(context.Background(), func(_ context.Context, evs []Event) error {
		for _, ev := range evs {
			got = append(got, ev.EventID)
		}
		return errors.New("server down")
	})
	if err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("expected one batch of a,b,c, got %v", got)
	}
	if res.Sent != 0 || res.Remaining != 3 {
		t.Fatalf("expected everything kept, got %+v", res)
	}
	if n, _ := q.Len(); n != 3 {
		t.Fatalf("expected 3 queued, got %d", n)
	}

	res, err = q.FlushBatch(context.Background(), func(context.Context, []Event) error {
		enqueueIDs(t, q, "late")
		return nil
	})
	if err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}
	if res.Sent != 3 || res.Remaining != 0 {
		t.Fatalf("expected batch delivered, got %+v", res)
	}
	if got := readQueueFile(t, q); !strings.Contains(got, `"late"`) || strings.Count(got, "\n") != 1 {
		t.Fatalf("expected only the late event left, got %q", got)
	}
}

func TestQueue_CancelledContextRetainsRest(t *testing.T) {
	q := newTestQueue(t)
	enqueueIDs(t, q, "a", "b", "c")

	ctx, cancel := context.WithCancel(context.Background())
	res, err := q.Flush(ctx, func(_ context.Context, ev Event) error {
		if ev.EventID == "a" {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Sent != 1 || res.Remaining != 2 {
		t.Fatalf("expected 1 sent 2 remaining, got %+v", res)
	}
	if n, _ := q.Len(); n != 2 {
		t.Fatalf("expected 2 queued, got %d", n)
	}
}

func TestQueue_EnqueueRepairsMissingNewline(t *testing.T) {
	q := newTestQueue(t)
	if err := os.MkdirAll(filepath.Dir(q.Path()), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(q.Path(), []byte(`{"eventId":"a"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	enqueueIDs(t, q, "b")

	if n, err := q.Len(); err != nil || n != 2 {
		t.Fatalf("expected 2 records, got %d err=%v", n, err)
	}
}
