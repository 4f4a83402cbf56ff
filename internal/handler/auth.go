package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"teamclaude/internal/auth"
	"teamclaude/internal/middleware"
	"teamclaude/internal/model"
)

const oidcStateCookie = "tc_oidc_state"

type AuthHandler struct {
	TokenConfig auth.TokenConfig
	Sessions    *auth.Sessions
	// Provider defaults to auth.CurrentProvider.
	Provider func() (*auth.Provider, error)
}

func (h *AuthHandler) provider() (*auth.Provider, error) {
	if h.Provider != nil {
		return h.Provider()
	}
	return auth.CurrentProvider()
}

// CLIToken mints a bearer credential for the logged-in browser user so the
// sidecar can report on their behalf.
func (h *AuthHandler) CLIToken(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}
	if tc.Source != model.SourceSession {
		c.JSON(http.StatusForbidden, gin.H{"error": "CLI tokens require an interactive session"})
		return
	}

	id := auth.Identity{TenantID: tc.TenantID, UserID: tc.UserID}
	if cookie, err := c.Cookie(auth.SessionCookieName); err == nil && h.Sessions != nil {
		if user, ok := h.Sessions.Lookup(cookie); ok {
			id.Email = user.Email
			id.Name = user.Name
		}
	}

	token, err := auth.CreateToken(id, h.TokenConfig)
	if err != nil {
		slog.Error("token creation failed", "tenant", tc.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"tenantId":  tc.TenantID,
		"userId":    tc.UserID,
		"expiresIn": int64(h.TokenConfig.Expiry.Seconds()),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	p, err := h.provider()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrProviderUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Identity provider unavailable"})
		return
	}

	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oidcStateCookie, state, 600, "/", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, p.AuthorizationURL(state))
}

func (h *AuthHandler) Me(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": tc.TenantID, "userId": tc.UserID, "source": tc.Source})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(auth.SessionCookieName); err == nil && h.Sessions != nil {
		h.Sessions.Delete(cookie)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookieName, "", -1, "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
