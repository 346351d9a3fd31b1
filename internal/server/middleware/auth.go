// Package middleware holds the gin middleware of the HTTP API: bearer authentication, role checks,
// client IP capture, audit, request logging and request telemetry.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	sessiondomain "github.com/akshithakatte/AgriConnect/internal/session/domain"
)

const bearerPrefix = "bearer "

// AccessValidator validates access tokens. *security.TokenProvider implements it.
type AccessValidator interface {
	ValidateAccess(token string) (sessionID, userID, role string, err error)
}

// SessionLookup loads a session by id. Used to reject access tokens of revoked sessions.
type SessionLookup interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
}

// RequireAuth rejects requests without a valid bearer access token with 401.
// On success the request context carries user_id, role and session_id (see WithIdentity).
// sessions may be nil; then revoked sessions are only caught when their access token expires.
func RequireAuth(tokens AccessValidator, sessions SessionLookup) gin.HandlerFunc {
	return authenticate(tokens, sessions, true)
}

// OptionalAuth sets the identity when a valid bearer token is present and lets every request through.
func OptionalAuth(tokens AccessValidator, sessions SessionLookup) gin.HandlerFunc {
	return authenticate(tokens, sessions, false)
}

func authenticate(tokens AccessValidator, sessions SessionLookup, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			if required {
				unauthorized(c)
				return
			}
			c.Next()
			return
		}
		sessionID, userID, role, err := tokens.ValidateAccess(token)
		if err == nil && sessions != nil {
			err = checkSession(c.Request.Context(), sessions, sessionID, userID)
		}
		if err != nil {
			if required {
				unauthorized(c)
				return
			}
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), userID, role, sessionID))
		c.Next()
	}
}

var errSessionInactive = errors.New("session revoked or expired")

func checkSession(ctx context.Context, sessions SessionLookup, sessionID, userID string) error {
	sess, err := sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != userID || !sess.Active(time.Now().UTC()) {
		return errSessionInactive
	}
	return nil
}

// RequireRole rejects authenticated requests whose role is not one of roles with 403.
// It must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		role, _ := GetRole(c.Request.Context())
		if !allowed[role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "insufficient role", "code": "forbidden"})
			return
		}
		c.Next()
	}
}

// ClientIP stores gin's view of the client IP in the request context for the audit logger.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing or invalid authorization", "code": "unauthorized"})
}

// extractBearer returns the token of an "Authorization: Bearer <token>" header, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
