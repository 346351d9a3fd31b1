package security

import "time"

// Test token settings.
const (
	TestIssuer   = "agriconnect-test"
	TestAudience = "agriconnect-test-api"
)

// NewTestTokenProvider returns a TokenProvider signing with a fresh ES256 key, a 15 minute access TTL and a
// one day refresh TTL. Tokens it issues are only valid for that provider.
func NewTestTokenProvider() (*TokenProvider, error) {
	priv, pub, err := GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(priv, pub, TestIssuer, TestAudience, 15*time.Minute, 24*time.Hour), nil
}
