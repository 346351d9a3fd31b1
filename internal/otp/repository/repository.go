package repository

import (
	"context"
	"time"

	"github.com/akshithakatte/AgriConnect/internal/otp/domain"
)

// Repository stores OTP challenges keyed by phone number.
type Repository interface {
	// Save stores c as the phone's challenge, replacing any previous one. It expires at c.ExpiresAt.
	Save(ctx context.Context, c *domain.Challenge) error
	// GetByPhone returns the phone's challenge, or nil if none is stored.
	GetByPhone(ctx context.Context, phone string) (*domain.Challenge, error)
	// IncrementAttempts records a failed verification and returns the new attempt count.
	// Returns 0 when no challenge is stored.
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	// Consume deletes the phone's challenge only if its ID is id. It reports whether it did,
	// so two concurrent verifications of the same code cannot both succeed.
	Consume(ctx context.Context, phone, id string) (bool, error)
	// Delete removes the phone's challenge, if any.
	Delete(ctx context.Context, phone string) error
}

// DefaultChallengeTTL is the OTP lifetime when neither config nor policy set one.
const DefaultChallengeTTL = 10 * time.Minute

// DefaultMaxAttempts is the number of wrong codes allowed per challenge by default.
const DefaultMaxAttempts = 5
