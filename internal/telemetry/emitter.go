// Package telemetry defines auth events and their best-effort delivery to OTel logs and Kafka.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// Auth event types.
const (
	EventOTPSent        = "otp_sent"
	EventOTPSendFailed  = "otp_send_failed"
	EventLoginSucceeded = "login_succeeded"
	EventLoginFailed    = "login_failed"
	EventLoginDenied    = "login_denied"
	EventRateLimited    = "rate_limited"
	EventTokenRefreshed = "token_refreshed"
	EventRefreshReuse   = "refresh_reuse_detected"
	EventLogout         = "logout"
	EventHTTPRequest    = "http_request"
)

// Event sources.
const (
	SourceAuthService    = "auth-service"
	SourceHTTPMiddleware = "http-middleware"
)

// AuthEvent is one auth-flow event. Phone is masked by the caller; OTPs and tokens never appear.
type AuthEvent struct {
	EventType string            `json:"eventType"`
	Source    string            `json:"source"`
	UserID    string            `json:"userId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// EventEmitter emits auth events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *AuthEvent) error
}

// MultiEmitter fans an event out to every non-nil emitter and joins their errors.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event *AuthEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MaskPhone keeps the last four digits of a phone number: "+919999991234" becomes "*********1234".
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := make([]byte, len(phone))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(phone)-4:], phone[len(phone)-4:])
	return string(masked)
}
