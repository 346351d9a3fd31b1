// Package otp holds the one-time password primitives shared by the auth service and the client:
// code generation and the phone/code formats both sides accept.
package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// CodeDigits is the length of generated codes.
const CodeDigits = 6

var (
	// ErrInvalidPhone is returned when a phone number is not 10 to 15 digits with an optional leading '+'.
	ErrInvalidPhone = errors.New("phone number must be 10 to 15 digits")
	// ErrInvalidCode is returned when a code is not 4 to 6 digits.
	ErrInvalidCode = errors.New("otp must be 4 to 6 digits")
)

// GenerateOTP returns a 6-digit numeric code (e.g. "048213") drawn uniformly from crypto/rand.
func GenerateOTP() (string, error) {
	s := make([]byte, CodeDigits)
	ten := big.NewInt(10)
	for i := range s {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		s[i] = '0' + byte(n.Int64())
	}
	return string(s), nil
}

// NormalizePhone strips spaces, dashes, dots and parentheses and validates the result.
// A leading '+' is kept. "+91 99999-99999" becomes "+919999999999".
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			return "", ErrInvalidPhone
		}
	}
	phone := b.String()
	digits := len(strings.TrimPrefix(phone, "+"))
	if digits < 10 || digits > 15 {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// DialDigits returns the phone without its leading '+', the form SMS gateways expect.
func DialDigits(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

// ValidateCode trims code and checks it is 4 to 6 ASCII digits.
func ValidateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) < 4 || len(code) > 6 {
		return "", ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}
