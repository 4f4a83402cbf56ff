package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"teamclaude/internal/auth"
	"teamclaude/internal/model"
	"teamclaude/internal/tenant"
)

const tenantContextKey = "tenantContext"

func TenantFromContext(c *gin.Context) (model.TenantContext, bool) {
	v, ok := c.Get(tenantContextKey)
	if !ok {
		return model.TenantContext{}, false
	}
	tc, ok := v.(model.TenantContext)
	return tc, ok && tc.TenantID != "" && tc.UserID != ""
}

func RequireTenant(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, err := resolver.Resolve(c.Request)
		if err != nil {
			msg := "Missing tenant context"
			if errors.Is(err, auth.ErrInvalidToken) {
				msg = "Invalid or expired token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(tenantContextKey, tc)
		c.Next()
	}
}
