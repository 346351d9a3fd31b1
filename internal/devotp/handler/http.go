// Package handler serves the dev-only OTP lookup endpoint.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akshithakatte/AgriConnect/internal/devotp"
	"github.com/akshithakatte/AgriConnect/internal/otp"
)

const devOTPNote = "DEV MODE ONLY"

// Handler reads codes from a devotp.Store. Only registered when dev OTP mode is enabled and not production.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a dev OTP handler backed by store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

// Register mounts GET /api/dev/otp on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/api/dev/otp", h.GetOTP)
}

// GetOTP returns the latest code sent to ?phone_number=. 400 when the number is malformed, 404 when none is live.
func (h *Handler) GetOTP(c *gin.Context) {
	phone, err := otp.NormalizePhone(c.Query("phone_number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error(), "code": "invalid_input"})
		return
	}
	code, ok := h.store.Get(c.Request.Context(), phone)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "OTP not found or expired", "code": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"otp": code, "note": devOTPNote})
}
