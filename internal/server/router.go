// Package server assembles the HTTP router and the optional gRPC health listener.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/audit"
	audithandler "github.com/akshithakatte/AgriConnect/internal/audit/handler"
	auditrepo "github.com/akshithakatte/AgriConnect/internal/audit/repository"
	devotphandler "github.com/akshithakatte/AgriConnect/internal/devotp/handler"
	healthhandler "github.com/akshithakatte/AgriConnect/internal/health/handler"
	identityhandler "github.com/akshithakatte/AgriConnect/internal/identity/handler"
	"github.com/akshithakatte/AgriConnect/internal/server/middleware"
	"github.com/akshithakatte/AgriConnect/internal/telemetry"
	userdomain "github.com/akshithakatte/AgriConnect/internal/user/domain"
)

// WelcomeMessage is the body of GET /.
const WelcomeMessage = "AgriConnect API"

// Deps are the handlers and collaborators the router mounts. Auth, Tokens and Health are required.
type Deps struct {
	Auth     identityhandler.AuthService
	Tokens   middleware.AccessValidator
	Sessions middleware.SessionLookup
	Health   *healthhandler.Handler
	// AuditRepo backs GET /api/admin/audit-logs; nil leaves the route unregistered.
	AuditRepo auditrepo.Repository
	// AuditLogger records authenticated state changes; nil disables the audit middleware.
	AuditLogger audit.AuditLogger
	// DevOTP serves GET /api/dev/otp. Set only in dev OTP mode outside production.
	DevOTP *devotphandler.Handler
	Events telemetry.EventEmitter
	Log    *zap.Logger
	// CORSOrigins lists allowed origins; "*" or empty allows any origin.
	CORSOrigins []string
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For sets the client IP.
	// Empty trusts no proxy and the socket peer is the client.
	TrustedProxies []string
}

// unaudited routes audit themselves in the auth service.
var unaudited = map[string]bool{
	"POST /api/auth/logout": true,
}

// untraced routes are not emitted as http_request events.
var untraced = map[string]bool{
	"GET /":           true,
	"GET /api/health": true,
}

// NewRouter returns the gin engine serving the AgriConnect API.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := identityhandler.RegisterValidations(); err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	var proxies []string
	if len(deps.TrustedProxies) > 0 {
		proxies = deps.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig(deps.CORSOrigins)),
		middleware.ClientIP(),
		middleware.RequestLogger(log),
		middleware.Telemetry(deps.Events, log, untraced),
		middleware.Audit(deps.AuditLogger, unaudited),
	)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": WelcomeMessage})
	})
	deps.Health.Register(r)

	requireAuth := middleware.RequireAuth(deps.Tokens, deps.Sessions)
	identityhandler.NewHandler(deps.Auth, log).Register(r, requireAuth, middleware.OptionalAuth(deps.Tokens, deps.Sessions))

	if deps.AuditRepo != nil {
		admin := r.Group("/api/admin", requireAuth, middleware.RequireRole(string(userdomain.RoleNGOAdmin)))
		audithandler.NewHandler(deps.AuditRepo).Register(admin)
	}
	if deps.DevOTP != nil {
		deps.DevOTP.Register(r)
	}
	return r, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
