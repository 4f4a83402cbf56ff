package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func resetProvider() {
	providerOnce = sync.Once{}
	provider = nil
	providerErr = nil
}

func discoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitProvider_DiscoversOnce(t *testing.T) {
	resetProvider()
	t.Cleanup(resetProvider)
	srv := discoveryServer(t)

	settings := OIDCSettings{Issuer: srv.URL, ClientID: "client", RedirectURL: "http://app/cb"}
	if err := InitProvider(context.Background(), settings, srv.Client()); err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	// A second call with broken settings keeps the first result.
	if err := InitProvider(context.Background(), OIDCSettings{}, srv.Client()); err != nil {
		t.Fatalf("expected cached success, got %v", err)
	}

	p, err := CurrentProvider()
	if err != nil {
		t.Fatalf("CurrentProvider: %v", err)
	}
	u := p.AuthorizationURL("state-1")
	if !strings.HasPrefix(u, srv.URL+"/authorize?") {
		t.Fatalf("unexpected authorization url %q", u)
	}
	if !strings.Contains(u, "client_id=client") || !strings.Contains(u, "state=state-1") {
		t.Fatalf("missing query params in %q", u)
	}
}

func TestInitProvider_FailureIsUnavailable(t *testing.T) {
	resetProvider()
	t.Cleanup(resetProvider)

	if err := InitProvider(context.Background(), OIDCSettings{}, nil); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := CurrentProvider(); err != ErrProviderUnavailable {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestDiscover_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := Discover(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatalf("expected error")
	}
}
