package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	eventsPath    = "/v1/ingest/events"
	heartbeatPath = "/v1/ingest/heartbeat"

	headerTenantID = "x-tenant-id"
	headerUserID   = "x-user-id"
)

// Identity is how the reporter authenticates. A non-empty Token is sent as a
// bearer credential and the identity headers are then omitted.
type Identity struct {
	TenantID string
	UserID   string
	Token    string
}

// DeliveryError is a failed delivery attempt: a transport error or a
// non-2xx response.
type DeliveryError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Reporter struct {
	baseURL *url.URL
	client  *http.Client
}

func NewReporter(baseURL string, client *http.Client) (*Reporter, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("reporter: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("reporter: base url must be http or https, got %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Reporter{baseURL: u, client: client}, nil
}

// ReportEvent makes one delivery attempt for ev.
func (r *Reporter) ReportEvent(ctx context.Context, ev Event, id Identity) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("reporter: encode event: %w", err)
	}
	return r.post(ctx, "report event", eventsPath, body, id)
}

// ReportEvents sends evs as one batch. The server accepts or rejects the
// batch as a whole.
func (r *Reporter) ReportEvents(ctx context.Context, evs []Event, id Identity) error {
	if len(evs) == 0 {
		return nil
	}
	body, err := json.Marshal(evs)
	if err != nil {
		return fmt.Errorf("reporter: encode events: %w", err)
	}
	return r.post(ctx, "report events", eventsPath, body, id)
}

func (r *Reporter) Heartbeat(ctx context.Context, id Identity) error {
	return r.post(ctx, "heartbeat", heartbeatPath, nil, id)
}

func (r *Reporter) post(ctx context.Context, op, path string, body []byte, id Identity) error {
	endpoint := r.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	setIdentity(req, id)

	resp, err := r.client.Do(req)
	if err != nil {
		return &DeliveryError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Op: op, StatusCode: resp.StatusCode}
	}
	return nil
}

func setIdentity(req *http.Request, id Identity) {
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
		return
	}
	req.Header.Set(headerTenantID, id.TenantID)
	req.Header.Set(headerUserID, id.UserID)
}
