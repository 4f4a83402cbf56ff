package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"teamclaude/internal/model"
	"teamclaude/internal/store"
)

type triggerCall struct {
	TenantID string
	UserID   string
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
	err   error
}

func (r *recordingTrigger) OnEvent(_ context.Context, tenantID, userID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, triggerCall{TenantID: tenantID, UserID: userID})
	return r.err
}

func newTestService() (*Service, *store.EventStore, *recordingTrigger) {
	events := store.NewEventStore()
	trigger := &recordingTrigger{}
	return NewService(events, trigger), events, trigger
}

var alice = model.TenantContext{TenantID: "acme", UserID: "alice", Source: model.SourceBearer}

func TestIngest_SingleObject(t *testing.T) {
	svc, events, trigger := newTestService()

	ack, err := svc.Ingest(context.Background(), alice, []byte(`{"eventId":"e1","eventType":"chat","durationMs":120,"ts":"2026-03-01T09:00:00Z"}`))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !ack.Accepted || ack.Count != 1 || ack.TenantID != "acme" || ack.UserID != "alice" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	stored, _ := events.ListByTenantUser(context.Background(), "acme", "alice")
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(stored))
	}
	ev := stored[0]
	if ev.EventType == nil || *ev.EventType != "chat" || ev.DurationMs == nil || *ev.DurationMs != 120 {
		t.Fatalf("unexpected stored event %+v", ev)
	}
	if len(trigger.calls) != 1 {
		t.Fatalf("expected 1 presence trigger, got %d", len(trigger.calls))
	}
}

func TestIngest_DuplicateStoredOnceButTriggersTwice(t *testing.T) {
	svc, events, trigger := newTestService()
	payload := []byte(`{"eventId":"dup-1"}`)

	first, err := svc.Ingest(context.Background(), alice, payload)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := svc.Ingest(context.Background(), alice, payload)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if !first.Accepted || !second.Accepted {
		t.Fatalf("expected both calls accepted")
	}
	if first.Duplicates != 0 || second.Duplicates != 1 {
		t.Fatalf("expected duplicates 0 then 1, got %d then %d", first.Duplicates, second.Duplicates)
	}
	stored, _ := events.ListByTenant(context.Background(), "acme")
	if len(stored) != 1 {
		t.Fatalf("expected 1 raw row, got %d", len(stored))
	}
	if len(trigger.calls) != 2 {
		t.Fatalf("expected 2 presence triggers, got %d", len(trigger.calls))
	}
}

func TestIngest_SameEventIDAcrossTenantsIsNotDuplicate(t *testing.T) {
	svc, events, _ := newTestService()
	bob := model.TenantContext{TenantID: "globex", UserID: "bob"}

	if _, err := svc.Ingest(context.Background(), alice, []byte(`{"eventId":"shared"}`)); err != nil {
		t.Fatalf("Ingest alice: %v", err)
	}
	ack, err := svc.Ingest(context.Background(), bob, []byte(`{"eventId":"shared"}`))
	if err != nil {
		t.Fatalf("Ingest bob: %v", err)
	}
	if ack.Duplicates != 0 {
		t.Fatalf("expected no duplicate across tenants, got %d", ack.Duplicates)
	}
	has, _ := events.HasEventID(context.Background(), "globex", "shared")
	if !has {
		t.Fatalf("expected globex dedup entry")
	}
}

func TestIngest_BatchTriggersOncePerItem(t *testing.T) {
	svc, _, trigger := newTestService()

	ack, err := svc.Ingest(context.Background(), alice, []byte(`[{"eventId":"a"},{"eventId":"b"},{"eventId":"a"}]`))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ack.Count != 3 || ack.Duplicates != 1 {
		t.Fatalf("expected count 3 with 1 duplicate, got %+v", ack)
	}
	if len(trigger.calls) != 3 {
		t.Fatalf("expected 3 presence triggers, got %d", len(trigger.calls))
	}
	for _, c := range trigger.calls {
		if c.TenantID != "acme" || c.UserID != "alice" {
			t.Fatalf("trigger used wrong identity %+v", c)
		}
	}
}

func TestIngest_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"free text field", `{"eventId":"e1","prompt":"please refactor my code"}`},
		{"missing event id", `{"eventType":"chat"}`},
		{"blank event id", `{"eventId":"   "}`},
		{"event id wrong type", `{"eventId":42}`},
		{"tenant mismatch", `{"eventId":"e1","tenantId":"globex"}`},
		{"user mismatch", `{"eventId":"e1","userId":"mallory"}`},
		{"bad timestamp", `{"eventId":"e1","ts":"yesterday"}`},
		{"number as string", `{"eventId":"e1","durationMs":"12"}`},
		{"scalar payload", `"hello"`},
		{"array of scalars", `[1,2]`},
		{"empty batch", `[]`},
		{"empty body", ``},
		{"bad item poisons batch", `[{"eventId":"ok"},{"eventId":"bad","content":"x"}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, events, trigger := newTestService()
			_, err := svc.Ingest(context.Background(), alice, []byte(tc.payload))

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			stored, _ := events.ListByTenant(context.Background(), "acme")
			if len(stored) != 0 {
				t.Fatalf("expected no storage write, got %d rows", len(stored))
			}
			if len(trigger.calls) != 0 {
				t.Fatalf("expected no presence trigger, got %d", len(trigger.calls))
			}
		})
	}
}

func TestIngest_MatchingIdentityIsAccepted(t *testing.T) {
	svc, _, _ := newTestService()
	ack, err := svc.Ingest(context.Background(), alice, []byte(`{"eventId":"e1","tenantId":"acme","userId":"alice","deviceId":null}`))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ack.Events[0].DeviceID != nil {
		t.Fatalf("expected null deviceId to be dropped")
	}
}

func TestIngest_PresenceFailureSurfaces(t *testing.T) {
	svc, _, trigger := newTestService()
	trigger.err = errors.New("store down")

	_, err := svc.Ingest(context.Background(), alice, []byte(`{"eventId":"e1"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Fatalf("presence failure must not look like a client error")
	}
}

func TestAllowedFields(t *testing.T) {
	got := AllowedFields()
	if len(got) != 9 || got[0] != "deviceId" {
		t.Fatalf("unexpected allow-list %v", got)
	}
}
