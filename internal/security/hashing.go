package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrCodeMismatch is returned by VerifyCode when the code does not match the stored hash.
var ErrCodeMismatch = errors.New("code mismatch")

// Hasher stores one-time codes as bcrypt hashes bound to the phone number they were sent to,
// so a hash copied onto another challenge never verifies.
type Hasher struct {
	Cost int
}

// NewHasher clamps cost to bcrypt's valid range; zero or negative means bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// HashCode hashes code for phone. The plaintext must not be logged or persisted.
func (h *Hasher) HashCode(phone, code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(bindCode(phone, code), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyCode reports ErrCodeMismatch for a wrong code. Any other error means the stored hash is unusable.
func (h *Hasher) VerifyCode(hash, phone, code string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), bindCode(phone, code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrCodeMismatch
	}
	return err
}

// bindCode keeps the input well under bcrypt's 72-byte limit for E.164 numbers.
func bindCode(phone, code string) []byte {
	return []byte(phone + ":" + code)
}
