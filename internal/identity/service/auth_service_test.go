package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshithakatte/AgriConnect/internal/audit"
	auditdomain "github.com/akshithakatte/AgriConnect/internal/audit/domain"
	auditrepo "github.com/akshithakatte/AgriConnect/internal/audit/repository"
	"github.com/akshithakatte/AgriConnect/internal/devotp"
	otprepo "github.com/akshithakatte/AgriConnect/internal/otp/repository"
	"github.com/akshithakatte/AgriConnect/internal/policy/engine"
	"github.com/akshithakatte/AgriConnect/internal/ratelimit"
	"github.com/akshithakatte/AgriConnect/internal/security"
	"github.com/akshithakatte/AgriConnect/internal/server/middleware"
	sessionrepo "github.com/akshithakatte/AgriConnect/internal/session/repository"
	userdomain "github.com/akshithakatte/AgriConnect/internal/user/domain"
	userrepo "github.com/akshithakatte/AgriConnect/internal/user/repository"
)

const (
	testPhone = "+919999999999"
	testIP    = "198.51.100.10"
)

// recordingSender captures delivered codes.
type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (r *recordingSender) SendOTP(ctx context.Context, phone, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.codes == nil {
		r.codes = map[string]string{}
	}
	r.codes[phone] = code
	return nil
}

func (r *recordingSender) code(phone string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[phone]
}

type failingEvaluator struct{}

func (failingEvaluator) EvaluateLogin(context.Context, engine.LoginInput) (engine.LoginDecision, error) {
	return engine.LoginDecision{}, errors.New("policy engine down")
}

type fixture struct {
	svc        *AuthService
	users      *userrepo.MemoryRepository
	sessions   *sessionrepo.MemoryRepository
	challenges *otprepo.MemoryRepository
	audit      *auditrepo.MemoryRepository
	devStore   *devotp.MemoryStore
	sender     *recordingSender
	tokens     *security.TokenProvider
}

type option func(*Deps, *Config)

func devMode(d *Deps, c *Config) { c.DevOTPMode = true }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	f := &fixture{
		users:      userrepo.NewMemoryRepository(),
		sessions:   sessionrepo.NewMemoryRepository(),
		challenges: otprepo.NewMemoryRepository(),
		audit:      auditrepo.NewMemoryRepository(),
		devStore:   devotp.NewMemoryStore(),
		sender:     &recordingSender{},
		tokens:     tokens,
	}
	deps := Deps{
		Users:      f.users,
		Sessions:   f.sessions,
		Challenges: f.challenges,
		Hasher:     security.NewHasher(4),
		Tokens:     tokens,
		Limiter:    ratelimit.NewMemoryLimiter(),
		SMS:        f.sender,
		DevStore:   f.devStore,
		Audit:      audit.NewLogger(f.audit, nil, nil),
	}
	cfg := Config{SendPerHour: 100, VerifyPer10m: 100}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	f.svc = NewAuthService(deps, cfg)
	return f
}

// login sends and verifies an OTP for phone and returns the tokens.
func (f *fixture) login(t *testing.T, phone string) *AuthResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SendOTP(ctx, phone, testIP)
	require.NoError(t, err)
	res, err := f.svc.VerifyOTP(ctx, phone, f.sender.code(phone), testIP)
	require.NoError(t, err)
	return res
}

// auditActions returns the recorded audit actions in no particular order.
func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	list, err := f.audit.List(context.Background(), auditrepo.Filter{Limit: auditrepo.MaxLimit})
	require.NoError(t, err)
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Action)
	}
	return out
}

func TestSendOTP_DevModeReturnsCodeAndCreatesFarmer(t *testing.T) {
	f := newFixture(t, devMode)
	ctx := context.Background()

	res, err := f.svc.SendOTP(ctx, "+91 99999-99999", testIP)
	require.NoError(t, err)
	assert.Equal(t, MessageOTPSent, res.Message)
	assert.Len(t, res.OTP, 6)
	assert.Empty(t, f.sender.code(testPhone), "dev mode must not send SMS")

	stored, ok := f.devStore.Get(ctx, testPhone)
	require.True(t, ok)
	assert.Equal(t, res.OTP, stored)

	u, err := f.users.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, userdomain.RoleFarmer, u.Role)
	assert.Equal(t, "en", u.Language)
	assert.True(t, u.Active)

	ch, err := f.challenges.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.NotEqual(t, res.OTP, ch.CodeHash, "only the hash is stored")
	assert.Equal(t, otprepo.DefaultMaxAttempts, ch.MaxAttempts)
	assert.WithinDuration(t, time.Now().Add(otprepo.DefaultChallengeTTL), ch.ExpiresAt, 5*time.Second)
}

func TestSendOTP_DeliversBySMS(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SendOTP(context.Background(), testPhone, testIP)
	require.NoError(t, err)
	assert.Empty(t, res.OTP, "code is never returned outside dev mode")
	assert.Len(t, f.sender.code(testPhone), 6)
	assert.Equal(t, []string{auditdomain.ActionOTPSent}, f.auditActions(t))
}

func TestSendOTP_InvalidPhone(t *testing.T) {
	f := newFixture(t)
	for _, phone := range []string{"", "   ", "12345", "+91abc9999999"} {
		_, err := f.svc.SendOTP(context.Background(), phone, testIP)
		assert.ErrorIs(t, err, ErrInvalidPhone, phone)
	}
	assert.Empty(t, f.sender.codes)
}

func TestSendOTP_DeliveryFailureDropsChallenge(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("gateway 500")

	_, err := f.svc.SendOTP(context.Background(), testPhone, testIP)
	require.ErrorIs(t, err, ErrDeliveryFailed)

	ch, err := f.challenges.GetByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.Equal(t, []string{auditdomain.ActionOTPSendFailed}, f.auditActions(t))
}

func TestSendOTP_NoSenderConfigured(t *testing.T) {
	f := newFixture(t, func(d *Deps, c *Config) { d.SMS = nil })
	_, err := f.svc.SendOTP(context.Background(), testPhone, testIP)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestSendOTP_RateLimitedPerPhone(t *testing.T) {
	f := newFixture(t, devMode, func(d *Deps, c *Config) { c.SendPerHour = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.SendOTP(ctx, testPhone, fmt.Sprintf("10.0.0.%d", i+1))
		require.NoError(t, err)
	}
	_, err := f.svc.SendOTP(ctx, testPhone, "10.0.0.9")
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, ruleSendPhone, rl.Rule)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	// Another phone from a fresh IP is unaffected.
	_, err = f.svc.SendOTP(ctx, "+918888888888", "10.0.0.10")
	assert.NoError(t, err)
}

func TestSendOTP_RateLimitedPerIP(t *testing.T) {
	f := newFixture(t, devMode, func(d *Deps, c *Config) { c.SendPerHour = 1 })
	ctx := context.Background()
	_, err := f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)
	_, err = f.svc.SendOTP(ctx, "+918888888888", testIP)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, ruleSendIP, rl.Rule)
}

func TestVerifyOTP_IssuesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t, testPhone)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, userdomain.RoleFarmer, res.Role)

	sessionID, userID, role, err := f.tokens.ValidateAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sessionID)
	assert.Equal(t, res.UserID, userID)
	assert.Equal(t, "farmer", role)

	sess, err := f.sessions.GetByID(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, testIP, sess.IPAddress)
	assert.True(t, security.RefreshTokenHashEqual(res.RefreshToken, sess.RefreshTokenHash))

	assert.ElementsMatch(t, []string{auditdomain.ActionOTPSent, auditdomain.ActionLoginSuccess}, f.auditActions(t))
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)
	code := f.sender.code(testPhone)

	_, err = f.svc.VerifyOTP(ctx, testPhone, code, testIP)
	require.NoError(t, err)
	_, err = f.svc.VerifyOTP(ctx, testPhone, code, testIP)
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTP_NewSendReplacesOldCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	f.svc.generate = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	_, err := f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)
	_, err = f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, testPhone, "111111", testIP)
	assert.ErrorIs(t, err, ErrInvalidOTP)
	_, err = f.svc.VerifyOTP(ctx, testPhone, "222222", testIP)
	assert.NoError(t, err)
}

func TestVerifyOTP_AttemptCap(t *testing.T) {
	f := newFixture(t, func(d *Deps, c *Config) { c.MaxAttempts = 3 })
	ctx := context.Background()
	f.svc.generate = func() (string, error) { return "123456", nil }
	_, err := f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.VerifyOTP(ctx, testPhone, "000000", testIP)
		require.ErrorIs(t, err, ErrInvalidOTP, "attempt %d", i+1)
	}
	// Even the right code is refused once the cap is reached, and the challenge is gone.
	_, err = f.svc.VerifyOTP(ctx, testPhone, "123456", testIP)
	require.ErrorIs(t, err, ErrTooManyAttempts)
	_, err = f.svc.VerifyOTP(ctx, testPhone, "123456", testIP)
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTP_AttemptCapUnderConcurrency(t *testing.T) {
	f := newFixture(t, func(d *Deps, c *Config) {
		c.MaxAttempts = 3
		c.VerifyPer10m = 1000
	})
	ctx := context.Background()
	f.svc.generate = func() (string, error) { return "123456", nil }
	_, err := f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)

	const guesses = 40
	errs := make([]error, guesses)
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyOTP(ctx, testPhone, fmt.Sprintf("%06d", i), testIP)
		}(i)
	}
	wg.Wait()

	checked := 0
	for _, err := range errs {
		switch {
		case errors.Is(err, ErrInvalidOTP):
			checked++
		case errors.Is(err, ErrTooManyAttempts), errors.Is(err, ErrOTPExpired):
		default:
			t.Fatalf("unexpected result: %v", err)
		}
	}
	assert.Equal(t, 3, checked, "only capped attempts reach the code check")

	_, err = f.svc.VerifyOTP(ctx, testPhone, "123456", testIP)
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTP_DroppedChallengeClearsDevCode(t *testing.T) {
	t.Run("attempt cap", func(t *testing.T) {
		f := newFixture(t, devMode, func(d *Deps, c *Config) { c.MaxAttempts = 1 })
		ctx := context.Background()
		f.svc.generate = func() (string, error) { return "123456", nil }
		_, err := f.svc.SendOTP(ctx, testPhone, testIP)
		require.NoError(t, err)

		_, err = f.svc.VerifyOTP(ctx, testPhone, "000000", testIP)
		require.ErrorIs(t, err, ErrInvalidOTP)
		_, ok := f.devStore.Get(ctx, testPhone)
		require.True(t, ok)

		_, err = f.svc.VerifyOTP(ctx, testPhone, "000000", testIP)
		require.ErrorIs(t, err, ErrTooManyAttempts)
		_, ok = f.devStore.Get(ctx, testPhone)
		assert.False(t, ok)
	})
	t.Run("expired", func(t *testing.T) {
		f := newFixture(t, devMode)
		ctx := context.Background()
		_, err := f.svc.SendOTP(ctx, testPhone, testIP)
		require.NoError(t, err)

		f.svc.now = func() time.Time { return time.Now().UTC().Add(otprepo.DefaultChallengeTTL + time.Minute) }
		_, err = f.svc.VerifyOTP(ctx, testPhone, "123456", testIP)
		require.ErrorIs(t, err, ErrOTPExpired)
		_, ok := f.devStore.Get(ctx, testPhone)
		assert.False(t, ok)
	})
}

func TestVerifyOTP_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SendOTP(ctx, testPhone, testIP)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(otprepo.DefaultChallengeTTL + time.Minute) }
	_, err = f.svc.VerifyOTP(ctx, testPhone, f.sender.code(testPhone), testIP)
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTP_NoChallenge(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VerifyOTP(context.Background(), testPhone, "123456", testIP)
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTP_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.VerifyOTP(ctx, "abc", "123456", testIP)
	assert.ErrorIs(t, err, ErrInvalidPhone)
	for _, code := range []string{"", "12", "1234567", "12a4"} {
		_, err := f.svc.VerifyOTP(ctx, testPhone, code, testIP)
		assert.ErrorIs(t, err, ErrInvalidCodeFormat, code)
	}
}

func TestVerifyOTP_RateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps, c *Config) { c.VerifyPer10m = 2 })
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.svc.VerifyOTP(ctx, testPhone, "123456", testIP)
		require.ErrorIs(t, err, ErrOTPExpired)
	}
	_, err := f.svc.VerifyOTP(ctx, testPhone, "123456", testIP)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestPolicy_DeactivatedUserDenied(t *testing.T) {
	eval, err := engine.NewOPAEvaluator(context.Background(), engine.DefaultLoginPolicy)
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps, c *Config) { d.Policy = eval })
	ctx := context.Background()

	res := f.login(t, testPhone)
	u, err := f.users.GetByID(ctx, res.UserID)
	require.NoError(t, err)
	u.Active = false
	require.NoError(t, f.users.Update(ctx, u))

	_, err = f.svc.SendOTP(ctx, testPhone, testIP)
	require.ErrorIs(t, err, ErrPolicyDenied)
	var denied *PolicyDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "account is deactivated", denied.Reason)
	assert.Contains(t, f.auditActions(t), auditdomain.ActionLoginDenied)
}

func TestPolicy_EvaluationFailureFallsBackToDefault(t *testing.T) {
	f := newFixture(t, func(d *Deps, c *Config) { d.Policy = failingEvaluator{} })
	res := f.login(t, testPhone)
	assert.Equal(t, userdomain.RoleFarmer, res.Role)
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t, testPhone)

	second, err := f.svc.Refresh(ctx, first.RefreshToken, testIP)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.UserID, second.UserID)

	// Replaying the rotated token revokes every session of the user.
	_, err = f.svc.Refresh(ctx, first.RefreshToken, testIP)
	require.ErrorIs(t, err, ErrRefreshTokenReuse)
	_, err = f.svc.Refresh(ctx, second.RefreshToken, testIP)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	sess, err := f.sessions.GetByID(ctx, first.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess.RevokedAt)
	assert.Contains(t, f.auditActions(t), auditdomain.ActionRefreshReuseDetected)
}

func TestRefresh_InvalidTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tok := range []string{"", "not-a-jwt"} {
		_, err := f.svc.Refresh(ctx, tok, testIP)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
	// An access token is not a refresh token for an existing session.
	res := f.login(t, testPhone)
	_, err := f.svc.Refresh(ctx, res.AccessToken, testIP)
	assert.Error(t, err)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byRefresh := f.login(t, testPhone)
	require.NoError(t, f.svc.Logout(ctx, byRefresh.RefreshToken))
	_, err := f.svc.Refresh(ctx, byRefresh.RefreshToken, testIP)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	byAccess := f.login(t, testPhone)
	authed := middleware.WithIdentity(ctx, byAccess.UserID, string(byAccess.Role), byAccess.SessionID)
	require.NoError(t, f.svc.Logout(authed, ""))
	sess, err := f.sessions.GetByID(ctx, byAccess.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess.RevokedAt)

	// Nothing to revoke: no-op.
	assert.NoError(t, f.svc.Logout(ctx, ""))
	assert.NoError(t, f.svc.Logout(ctx, "garbage"))
}

func TestMeAndUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t, testPhone)

	u, err := f.svc.Me(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, testPhone, u.PhoneNumber)

	name, lang := "  Ravi Kumar ", "hi"
	u, err = f.svc.UpdateProfile(ctx, res.UserID, ProfileUpdate{Name: &name, Language: &lang})
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", u.Name)
	assert.Equal(t, "hi", u.Language)

	again, err := f.svc.Me(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", again.Name)
	assert.Equal(t, "hi", again.Language)

	empty := " "
	_, err = f.svc.UpdateProfile(ctx, res.UserID, ProfileUpdate{Language: &empty})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = f.svc.Me(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = f.svc.Me(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
