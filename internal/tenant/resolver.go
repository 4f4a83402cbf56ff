// Package tenant derives the trusted (tenantId, userId) pair of a request.
//
// Resolution is an ordered chain of strategies. Each strategy inspects the
// request and reports one of three outcomes:
//
//   - Absent: the credential it handles is not on the request; try the next one.
//   - Invalid: the credential is present but fails verification; stop and reject.
//   - Valid: the credential verified; use its context.
//
// Invalid never falls through. A request carrying a bad bearer token is
// rejected even if it also carries identity headers that would be accepted.
package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"teamclaude/internal/auth"
	"teamclaude/internal/model"
)

var ErrUnauthorized = errors.New("missing tenant context")

type Outcome int

const (
	Absent Outcome = iota
	Invalid
	Valid
)

type Result struct {
	Outcome Outcome
	Context model.TenantContext
	Err     error
}

func absent() Result { return Result{Outcome: Absent} }

func invalid(err error) Result { return Result{Outcome: Invalid, Err: err} }

func valid(tc model.TenantContext) Result { return Result{Outcome: Valid, Context: tc} }

type Strategy func(r *http.Request) Result

type Resolver struct {
	strategies []Strategy
}

func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve walks the chain in order. Errors wrap ErrUnauthorized.
func (res *Resolver) Resolve(r *http.Request) (model.TenantContext, error) {
	for _, strategy := range res.strategies {
		result := strategy(r)
		switch result.Outcome {
		case Valid:
			return result.Context, nil
		case Invalid:
			if result.Err == nil {
				return model.TenantContext{}, ErrUnauthorized
			}
			return model.TenantContext{}, fmt.Errorf("%w: %w", ErrUnauthorized, result.Err)
		}
	}
	return model.TenantContext{}, ErrUnauthorized
}

type SessionLookup interface {
	Lookup(id string) (auth.SessionUser, bool)
}

// Session resolves interactive browser sessions. The tenant is the configured
// default; the user is the session subject.
func Session(sessions SessionLookup, defaultTenantID string) Strategy {
	return func(r *http.Request) Result {
		if sessions == nil {
			return absent()
		}
		cookie, err := r.Cookie(auth.SessionCookieName)
		if err != nil {
			return absent()
		}
		user, ok := sessions.Lookup(cookie.Value)
		if !ok {
			return absent()
		}
		return valid(model.TenantContext{TenantID: defaultTenantID, UserID: user.Subject, Source: model.SourceSession})
	}
}

// Bearer resolves an `Authorization: Bearer <token>` header.
func Bearer(cfg auth.TokenConfig) Strategy {
	return func(r *http.Request) Result {
		header := r.Header.Get("Authorization")
		if header == "" {
			return absent()
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return absent()
		}
		return verifyToken(strings.TrimSpace(parts[1]), cfg)
	}
}

// QueryToken resolves a bearer token passed as a query parameter, for
// clients that cannot set headers on a WebSocket upgrade.
func QueryToken(cfg auth.TokenConfig, param string) Strategy {
	return func(r *http.Request) Result {
		if !r.URL.Query().Has(param) {
			return absent()
		}
		return verifyToken(r.URL.Query().Get(param), cfg)
	}
}

func verifyToken(token string, cfg auth.TokenConfig) Result {
	if token == "" {
		return invalid(auth.ErrInvalidToken)
	}
	claims, err := auth.VerifyToken(token, cfg)
	if err != nil {
		return invalid(err)
	}
	return valid(model.TenantContext{TenantID: claims.TenantID, UserID: claims.Subject, Source: model.SourceBearer})
}

const (
	HeaderTenantID = "x-tenant-id"
	HeaderUserID   = "x-user-id"
)

// Headers resolves the explicit identity header pair used by non-interactive
// callers. Both headers are required.
func Headers() Strategy {
	return func(r *http.Request) Result {
		tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if tenantID == "" || userID == "" {
			return absent()
		}
		return valid(model.TenantContext{TenantID: tenantID, UserID: userID, Source: model.SourceHeaders})
	}
}
