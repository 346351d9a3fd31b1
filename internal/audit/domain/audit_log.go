package domain

import "time"

// AuditLog is one recorded security event (OTP sent, login, refresh, logout, profile change).
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Actions written by the auth service and the audit middleware.
const (
	ActionOTPSent              = "otp_sent"
	ActionOTPSendFailed        = "otp_send_failed"
	ActionLoginSuccess         = "login_success"
	ActionLoginFailure         = "login_failure"
	ActionLoginDenied          = "login_denied"
	ActionTokenRefreshed       = "token_refreshed"
	ActionRefreshReuseDetected = "refresh_reuse_detected"
	ActionLogout               = "logout"
)
