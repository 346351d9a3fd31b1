package engine

import (
	"context"
	"time"
)

// LoginInput is what the login policy sees about one OTP request.
type LoginInput struct {
	// Action is "send_otp" or "verify_otp".
	Action string
	Phone  string
	IP     string
	// UserExists is false for a phone number that has never logged in.
	UserExists bool
	UserActive bool
	UserRole   string
}

// LoginDecision is the login policy's answer. Zero OTPTTL or MaxAttempts means "use the configured default".
type LoginDecision struct {
	Allow       bool
	Reason      string
	DefaultRole string
	OTPTTL      time.Duration
	MaxAttempts int
}

// Evaluator decides whether a phone number may log in and with which OTP parameters.
type Evaluator interface {
	EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error)
}

// DefaultDecision is used when the policy cannot be evaluated.
func DefaultDecision() LoginDecision {
	return LoginDecision{Allow: true, DefaultRole: "farmer"}
}
