package authflow

import (
	"errors"
	"fmt"
	"time"
)

// Class is the user-facing category of a failed submission.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassInvalidInput is a local, pre-submission failure. No request was issued.
	ClassInvalidInput
	// ClassTransport is a network failure, timeout, 5xx or 429. Retrying may succeed.
	ClassTransport
	// ClassRejected is a 4xx rejection (wrong or expired OTP, policy denial). Retrying as-is will not help.
	ClassRejected
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassInvalidInput:
		return "invalid_input"
	case ClassTransport:
		return "transport"
	case ClassRejected:
		return "rejected"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

var (
	// ErrPending is returned when a submission is made while another request is in flight.
	ErrPending = errors.New("authflow: a request is already in flight")
	// ErrWrongPhase is returned when a submission does not fit the current phase.
	ErrWrongPhase = errors.New("authflow: action not allowed in the current phase")
	// ErrStale is returned for a request that settled after ChangePhone. Its result is discarded.
	ErrStale = errors.New("authflow: result discarded after phone number change")
)

// Server error codes the controller treats specially.
const (
	CodeOTPExpired      = "otp_expired"
	CodeTooManyAttempts = "too_many_attempts"
)

// Op names the request an error belongs to.
type Op string

const (
	OpSendOTP   Op = "send-otp"
	OpVerifyOTP Op = "verify-otp"
)

// InputError is a local validation failure of Field ("phone_number" or "otp").
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// TransportError is a failure to get a usable answer from the server: the request did not complete,
// or the server answered 5xx or 429. Status is 0 when no response arrived.
type TransportError struct {
	Op         Op
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a 4xx answer. Code and Detail come from the server's {"detail", "code"} body.
type RejectedError struct {
	Op     Op
	Status int
	Code   string
	Detail string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("%s: rejected with %d", e.Op, e.Status)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// NeedsNewCode reports whether the user must request a fresh OTP before trying again.
func (e *RejectedError) NeedsNewCode() bool {
	return e.Op == OpVerifyOTP && (e.Code == CodeOTPExpired || e.Code == CodeTooManyAttempts)
}

// Classify returns the class of err. Errors that are none of the typed errors count as transport errors.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var in *InputError
	var rej *RejectedError
	switch {
	case errors.As(err, &in):
		return ClassInvalidInput
	case errors.As(err, &rej):
		return ClassRejected
	default:
		return ClassTransport
	}
}

// Message returns the text to show the user for err; each class reads differently.
func Message(err error) string {
	switch Classify(err) {
	case ClassNone:
		return ""
	case ClassInvalidInput:
		var in *InputError
		errors.As(err, &in)
		if in.Field == FieldOTP {
			return "Enter the 4 to 6 digit code we sent you."
		}
		return "Enter a valid phone number (10 to 15 digits, optional leading +)."
	case ClassRejected:
		var rej *RejectedError
		errors.As(err, &rej)
		switch {
		case rej.NeedsNewCode():
			return "This code can no longer be used. Request a new code."
		case rej.Op == OpVerifyOTP:
			return "That code is not correct. Check it and try again."
		case rej.Detail != "":
			return "Request refused: " + rej.Detail
		default:
			return "The server refused the request."
		}
	default:
		var tr *TransportError
		if errors.As(err, &tr) && tr.Status == 429 {
			if tr.RetryAfter > 0 {
				return fmt.Sprintf("Too many requests. Try again in %s.", tr.RetryAfter.Round(time.Second))
			}
			return "Too many requests. Try again shortly."
		}
		return "Could not reach AgriConnect. Check your connection and try again."
	}
}
