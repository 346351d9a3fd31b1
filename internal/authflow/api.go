package authflow

import "context"

// DashboardRoute is where the controller navigates after a successful verification.
const DashboardRoute = "/dashboard"

// SendResult is the outcome of a successful send-otp call.
type SendResult struct {
	Message string
	// DevOTP is set only when the server runs in dev OTP mode.
	DevOTP string
}

// API is the authentication backend. Implementations return *TransportError or *RejectedError on failure;
// other errors are treated as transport errors.
type API interface {
	SendOTP(ctx context.Context, phone string) (*SendResult, error)
	VerifyOTP(ctx context.Context, phone, otp string) (*Session, error)
}

// Navigator moves the UI to another route.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }
