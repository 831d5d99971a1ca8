package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"billingstack/pkg/api/common"
	"billingstack/pkg/ctxkeys"
	"billingstack/pkg/models"
)

// Config configures the authentication middleware.
type Config struct {
	JWTSecret []byte
	// ServiceToken authenticates internal callers (operators, other services)
	// and always grants admin.
	ServiceToken string
	// ServiceUserID is reported as the caller for service token requests.
	ServiceUserID string
}

// Middleware authenticates a Bearer token as either the service token or a
// JWT and stores the identity on the gin context and the request context.
func Middleware(cfg Config) gin.HandlerFunc {
	serviceUser := cfg.ServiceUserID
	if serviceUser == "" {
		serviceUser = "service"
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing or malformed authorization header")
			return
		}

		var rc models.RequestContext
		switch {
		case cfg.ServiceToken != "" && ValidateServiceToken(token, cfg.ServiceToken) == nil:
			rc = models.RequestContext{UserID: serviceUser, Role: "service", IsAdmin: true}
			c.Set(string(ctxkeys.KeyAuthType), "service")
		default:
			claims, err := ValidateJWT(token, cfg.JWTSecret)
			if err != nil {
				abortUnauthorized(c, err.Error())
				return
			}
			rc = claims.RequestContext()
			c.Set(string(ctxkeys.KeyAuthType), "jwt")
		}

		c.Set(string(ctxkeys.KeyUserID), rc.UserID)
		c.Set(string(ctxkeys.KeyTenantID), rc.TenantID)
		c.Set(string(ctxkeys.KeyRole), rc.Role)
		c.Set(string(ctxkeys.KeyIsAdmin), rc.IsAdmin)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), rc))
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin flag.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(string(ctxkeys.KeyIsAdmin)) {
			c.AbortWithStatusJSON(http.StatusForbidden, common.ErrorResponse{
				Error: "admin privileges required",
				Code:  common.CodeForbidden,
			})
			return
		}
		c.Next()
	}
}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, rc models.RequestContext) context.Context {
	ctx = context.WithValue(ctx, ctxkeys.KeyUserID, rc.UserID)
	ctx = context.WithValue(ctx, ctxkeys.KeyTenantID, rc.TenantID)
	ctx = context.WithValue(ctx, ctxkeys.KeyRole, rc.Role)
	return context.WithValue(ctx, ctxkeys.KeyIsAdmin, rc.IsAdmin)
}

// FromContext rebuilds the caller identity from ctx.
func FromContext(ctx context.Context) models.RequestContext {
	return models.RequestContext{
		UserID:    ctxkeys.GetUserID(ctx),
		TenantID:  ctxkeys.GetTenantID(ctx),
		Role:      ctxkeys.GetRole(ctx),
		IsAdmin:   ctxkeys.IsAdmin(ctx),
		RequestID: ctxkeys.GetRequestID(ctx),
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrorResponse{
		Error: msg,
		Code:  common.CodeUnauthorized,
	})
}
