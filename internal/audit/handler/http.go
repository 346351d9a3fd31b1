// Package handler serves the audit log listing for NGO admins.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	auditrepo "github.com/akshithakatte/AgriConnect/internal/audit/repository"
)

// Handler lists audit logs. Callers must mount it behind bearer auth and the ngo_admin role check.
type Handler struct {
	repo auditrepo.Repository
}

// NewHandler returns an audit log handler backed by repo.
func NewHandler(repo auditrepo.Repository) *Handler {
	return &Handler{repo: repo}
}

// Register mounts GET /audit-logs on r (r is expected to be the /api/admin group).
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/audit-logs", h.ListAuditLogs)
}

type listQuery struct {
	UserID string `form:"user_id" binding:"omitempty,max=64"`
	Action string `form:"action" binding:"omitempty,max=64"`
	Limit  int32  `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int32  `form:"offset" binding:"omitempty,min=0"`
}

type auditLogResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAuditLogs returns a page of audit logs, newest first.
func (h *Handler) ListAuditLogs(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid query: " + err.Error(), "code": "invalid_input"})
		return
	}
	if q.Limit == 0 {
		q.Limit = auditrepo.DefaultLimit
	}
	list, err := h.repo.List(c.Request.Context(), auditrepo.Filter{
		UserID: q.UserID, Action: q.Action, Limit: q.Limit, Offset: q.Offset,
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to list audit logs", "code": "internal"})
		return
	}
	out := make([]auditLogResponse, 0, len(list))
	for _, a := range list {
		out = append(out, auditLogResponse{
			ID: a.ID, UserID: a.UserID, Action: a.Action, Resource: a.Resource,
			IP: a.IP, Metadata: a.Metadata, CreatedAt: a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": out, "limit": q.Limit, "offset": q.Offset})
}
