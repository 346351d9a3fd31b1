package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/telemetry"
)

// RequestLogger logs one line per request: method, route, status, latency and client IP.
// Query strings and bodies are not logged.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", routeOf(c)),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// Telemetry emits an http_request event after each request. skipRoutes holds "METHOD /path" keys
// (e.g. health probes) that are not emitted. A nil emitter disables the middleware.
func Telemetry(emitter telemetry.EventEmitter, log *zap.Logger, skipRoutes map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := routeOf(c)
		if emitter == nil || skipRoutes[c.Request.Method+" "+route] {
			return
		}
		ctx := c.Request.Context()
		userID, _ := GetUserID(ctx)
		sessionID, _ := GetSessionID(ctx)
		telemetry.EmitAsync(emitter, log, &telemetry.AuthEvent{
			EventType: telemetry.EventHTTPRequest,
			Source:    telemetry.SourceHTTPMiddleware,
			UserID:    userID,
			SessionID: sessionID,
			IP:        c.ClientIP(),
			Metadata: map[string]string{
				"method":      c.Request.Method,
				"route":       route,
				"status_code": strconv.Itoa(c.Writer.Status()),
				"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			},
		})
	}
}

// routeOf returns the registered route, or the raw path for unmatched requests.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
