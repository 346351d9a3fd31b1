// Package handler exposes the auth service over HTTP: OTP send and verify, token refresh, logout and the
// signed-in user's profile.
package handler

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/identity/service"
	"github.com/akshithakatte/AgriConnect/internal/otp"
	"github.com/akshithakatte/AgriConnect/internal/server/middleware"
	userdomain "github.com/akshithakatte/AgriConnect/internal/user/domain"
)

// TokenTypeBearer is the token_type of every token response.
const TokenTypeBearer = "bearer"

// AuthService is the part of service.AuthService the handler calls.
type AuthService interface {
	SendOTP(ctx context.Context, phone, ip string) (*service.SendResult, error)
	VerifyOTP(ctx context.Context, phone, code, ip string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken, ip string) (*service.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID string) (*userdomain.User, error)
	UpdateProfile(ctx context.Context, userID string, upd service.ProfileUpdate) (*userdomain.User, error)
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required,phone"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required,phone"`
	OTP         string `json:"otp" binding:"required,otpcode"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type profileRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=100"`
	Language *string `json:"language" binding:"omitempty,min=2,max=10"`
}

type sendOTPResponse struct {
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type userResponse struct {
	ID          string     `json:"id"`
	PhoneNumber string     `json:"phone_number"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Language    string     `json:"language"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Handler serves /api/auth.
type Handler struct {
	auth AuthService
	log  *zap.Logger
}

// NewHandler returns a Handler backed by auth. log may be nil.
func NewHandler(auth AuthService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: auth, log: log}
}

// Register mounts the /api/auth routes on r. requireAuth guards /me; optionalAuth runs before logout so an
// access token can identify the session when no refresh token is posted.
func (h *Handler) Register(r gin.IRouter, requireAuth, optionalAuth gin.HandlerFunc) {
	g := r.Group("/api/auth")
	g.POST("/send-otp", h.SendOTP)
	g.POST("/verify-otp", h.VerifyOTP)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", optionalAuth, h.Logout)
	g.GET("/me", requireAuth, h.Me)
	g.PATCH("/me", requireAuth, h.UpdateMe)
}

// SendOTP handles POST /api/auth/send-otp.
func (h *Handler) SendOTP(c *gin.Context) {
	var req sendOTPRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.SendOTP(c.Request.Context(), req.PhoneNumber, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sendOTPResponse{Message: res.Message, OTP: res.OTP})
}

// VerifyOTP handles POST /api/auth/verify-otp.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.VerifyOTP(c.Request.Context(), req.PhoneNumber, req.OTP, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(res))
}

// Refresh handles POST /api/auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(res))
}

// Logout handles POST /api/auth/logout. The body is optional.
func (h *Handler) Logout(c *gin.Context) {
	var req logoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.invalid(c, err)
			return
		}
	}
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(c *gin.Context) {
	userID, _ := middleware.GetUserID(c.Request.Context())
	u, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(u))
}

// UpdateMe handles PATCH /api/auth/me.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req profileRequest
	if !h.bind(c, &req) {
		return
	}
	userID, _ := middleware.GetUserID(c.Request.Context())
	u, err := h.auth.UpdateProfile(c.Request.Context(), userID, service.ProfileUpdate{Name: req.Name, Language: req.Language})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(u))
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.invalid(c, err)
		return false
	}
	return true
}

func (h *Handler) invalid(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": validationMessage(err), "code": "invalid_input"})
}

// writeError maps service errors to status codes and {detail, code} bodies.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	detail := err.Error()

	var rl *service.RateLimitError
	var denied *service.PolicyDeniedError
	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
		status, code = http.StatusTooManyRequests, "rate_limited"
	case errors.As(err, &denied):
		status, code = http.StatusForbidden, "policy_denied"
	case errors.Is(err, service.ErrInvalidPhone), errors.Is(err, service.ErrInvalidCodeFormat), errors.Is(err, service.ErrInvalidProfile):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrInvalidOTP):
		status, code = http.StatusUnauthorized, "invalid_otp"
	case errors.Is(err, service.ErrOTPExpired):
		status, code = http.StatusUnauthorized, "otp_expired"
	case errors.Is(err, service.ErrTooManyAttempts):
		status, code = http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, service.ErrDeliveryFailed):
		status, code = http.StatusBadGateway, "delivery_failed"
		detail = service.ErrDeliveryFailed.Error()
	case errors.Is(err, service.ErrInvalidRefreshToken):
		status, code = http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, service.ErrRefreshTokenReuse):
		status, code = http.StatusUnauthorized, "refresh_reuse"
	case errors.Is(err, service.ErrUserNotFound):
		status, code = http.StatusNotFound, "not_found"
	default:
		h.log.Error("auth request failed", zap.String("route", c.FullPath()), zap.Error(err))
		detail = "internal server error"
	}
	c.JSON(status, gin.H{"detail": detail, "code": code})
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func toTokenResponse(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    TokenTypeBearer,
		UserID:       res.UserID,
		Role:         string(res.Role),
		ExpiresAt:    res.ExpiresAt,
	}
}

func toUserResponse(u *userdomain.User) userResponse {
	out := userResponse{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		Name:        u.Name,
		Role:        string(u.Role),
		Language:    u.Language,
		IsActive:    u.Active,
		CreatedAt:   u.CreatedAt,
	}
	if !u.UpdatedAt.IsZero() {
		updated := u.UpdatedAt
		out.UpdatedAt = &updated
	}
	return out
}

// RegisterValidations adds the "phone" and "otpcode" rules to gin's validator and reports field errors
// by their JSON names. Call it once before serving.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("handler: gin validator is not go-playground/validator")
	}
	v.RegisterTagNameFunc(jsonFieldName)
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		return err
	}
	return v.RegisterValidation("otpcode", validateOTPCode)
}

func validatePhone(fl validator.FieldLevel) bool {
	_, err := otp.NormalizePhone(fl.Field().String())
	return err == nil
}

func validateOTPCode(fl validator.FieldLevel) bool {
	_, err := otp.ValidateCode(fl.Field().String())
	return err == nil
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// validationMessage turns binding errors into one readable sentence.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "request body must be valid JSON"
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "phone":
			msgs = append(msgs, field+" must be 10 to 15 digits with an optional leading +")
		case "otpcode":
			msgs = append(msgs, field+" must be 4 to 6 digits")
		case "min":
			msgs = append(msgs, field+" must be at least "+fe.Param()+" characters")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}
