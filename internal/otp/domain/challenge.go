package domain

import "time"

// Challenge is the live OTP for one phone number. Only the bcrypt hash of the code is kept.
// A new send replaces any previous challenge for the same phone.
type Challenge struct {
	ID          string
	Phone       string
	UserID      string
	CodeHash    string
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// OverCap reports whether attempts, counting the one being made, goes past MaxAttempts.
// A zero MaxAttempts means no cap.
func (c *Challenge) OverCap(attempts int) bool {
	return c.MaxAttempts > 0 && attempts > c.MaxAttempts
}
