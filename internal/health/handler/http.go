// Package handler reports service readiness over HTTP (GET /api/health) and gRPC (grpc.health.v1).
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// checkTimeout bounds one dependency check.
const checkTimeout = 2 * time.Second

// Status values of a health response.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Pinger is a dependency that can be pinged (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is the login policy engine (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// RedisPinger returns a Pinger for a Redis client.
func RedisPinger(client redis.UniversalClient) Pinger {
	return PingerFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
}

// Response is the body of GET /api/health.
type Response struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// Handler checks the database, Redis and the policy engine. Nil dependencies are skipped.
type Handler struct {
	version string
	db      Pinger
	redis   Pinger
	policy  PolicyChecker
}

// NewHandler returns a health handler. Any of db, redis and policy may be nil.
func NewHandler(version string, db, redis Pinger, policy PolicyChecker) *Handler {
	return &Handler{version: version, db: db, redis: redis, policy: policy}
}

// Register mounts GET /api/health on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/api/health", h.Health)
}

// Health responds 200 when every configured dependency is reachable, 503 otherwise.
func (h *Handler) Health(c *gin.Context) {
	res := h.Check(c.Request.Context())
	code := http.StatusOK
	if res.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, res)
}

// Check runs every configured dependency check. Failed checks report "error: <message>".
func (h *Handler) Check(ctx context.Context) Response {
	res := Response{Status: StatusHealthy, Version: h.version, Checks: map[string]string{}}
	run := func(name string, fn func(context.Context) error) {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := fn(cctx); err != nil {
			res.Status = StatusUnhealthy
			res.Checks[name] = "error: " + err.Error()
			return
		}
		res.Checks[name] = "ok"
	}
	if h.db != nil {
		run("database", h.db.PingContext)
	}
	if h.redis != nil {
		run("redis", h.redis.PingContext)
	}
	if h.policy != nil {
		run("policy", h.policy.HealthCheck)
	}
	return res
}
