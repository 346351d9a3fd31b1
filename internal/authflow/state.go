package authflow

import (
	"fmt"
	"time"
)

// Phase is the step of the login flow.
type Phase int

const (
	// PhasePhoneEntry collects the phone number. It is the initial phase.
	PhasePhoneEntry Phase = iota
	// PhaseOTPEntry collects the code sent to the phone number.
	PhaseOTPEntry
	// PhaseAuthenticated is terminal: the code was accepted and a Session issued.
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhasePhoneEntry:
		return "phone_entry"
	case PhaseOTPEntry:
		return "otp_entry"
	case PhaseAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Input field names used in InputError.
const (
	FieldPhone = "phone_number"
	FieldOTP   = "otp"
)

// Session is what a successful verification returns: a bearer access token and a rotating refresh token.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	UserID       string
	Role         string
	ExpiresAt    time.Time
}

// Snapshot is a copy of the controller state for rendering.
// OTP is only meaningful in PhaseOTPEntry and is empty in every other phase.
type Snapshot struct {
	Phase       Phase
	PhoneNumber string
	OTP         string
	Pending     bool
	// Err is the last submission's failure; nil after a success or a phase change.
	Err error
	// Notice is the server's message from the last successful send.
	Notice string
	// DevOTP is the code echoed back by a server running in dev OTP mode.
	DevOTP string
	// Session is set in PhaseAuthenticated.
	Session *Session
}
