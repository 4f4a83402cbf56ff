package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var ErrProviderUnavailable = errors.New("identity provider unavailable")

type OIDCSettings struct {
	Issuer      string
	ClientID    string
	RedirectURL string
}

// Provider is the discovered identity-provider configuration shared by the
// whole process.
type Provider struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`

	clientID    string
	redirectURL string
}

var (
	providerOnce sync.Once
	provider     *Provider
	providerErr  error
)

// InitProvider runs discovery once for the process. Later calls return the
// first result. A failed discovery is remembered; CurrentProvider then reports
// ErrProviderUnavailable instead of retrying on the request path.
func InitProvider(ctx context.Context, settings OIDCSettings, client *http.Client) error {
	providerOnce.Do(func() {
		if settings.Issuer == "" || settings.ClientID == "" {
			providerErr = errors.New("OIDC_ISSUER and OIDC_CLIENT_ID must be set")
			return
		}
		if client == nil {
			client = &http.Client{Timeout: 5 * time.Second}
		}
		p, err := Discover(ctx, client, settings.Issuer)
		if err != nil {
			providerErr = err
			return
		}
		p.clientID = settings.ClientID
		p.redirectURL = settings.RedirectURL
		provider = p
	})
	return providerErr
}

func CurrentProvider() (*Provider, error) {
	if provider == nil {
		return nil, ErrProviderUnavailable
	}
	return provider, nil
}

func Discover(ctx context.Context, client *http.Client, issuer string) (*Provider, error) {
	wellKnown := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc discovery: status %d", resp.StatusCode)
	}

	var p Provider
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	if p.AuthorizationEndpoint == "" || p.TokenEndpoint == "" {
		return nil, errors.New("oidc discovery: missing endpoints")
	}
	return &p, nil
}

func (p *Provider) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.clientID)
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	if p.redirectURL != "" {
		q.Set("redirect_uri", p.redirectURL)
	}

	sep := "?"
	if strings.Contains(p.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return p.AuthorizationEndpoint + sep + q.Encode()
}
