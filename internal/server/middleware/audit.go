package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akshithakatte/AgriConnect/internal/audit"
)

// Audit records an audit entry after each successful, authenticated, state-changing request (any method
// but GET, HEAD and OPTIONS). Action and resource come from audit.ParseRoute. skipRoutes lists "METHOD /path" keys
// whose handlers audit themselves (e.g. logout).
func Audit(logger audit.AuditLogger, skipRoutes map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if logger == nil {
			return
		}
		method := c.Request.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}
		path := c.FullPath()
		if path == "" || skipRoutes[method+" "+path] || c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		ctx := c.Request.Context()
		userID, _ := GetUserID(ctx)
		if userID == "" {
			return
		}
		ar := audit.ParseRoute(method, path)
		meta, _ := json.Marshal(map[string]int{"status": c.Writer.Status()})
		logger.LogEvent(ctx, userID, ar.Action, ar.Resource, string(meta))
	}
}
