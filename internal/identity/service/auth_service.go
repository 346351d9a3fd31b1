// Package service implements phone/OTP login: OTP issue and verification, token issue and rotation,
// logout, and the signed-in user's profile.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/audit"
	auditdomain "github.com/akshithakatte/AgriConnect/internal/audit/domain"
	"github.com/akshithakatte/AgriConnect/internal/devotp"
	"github.com/akshithakatte/AgriConnect/internal/otp"
	otpdomain "github.com/akshithakatte/AgriConnect/internal/otp/domain"
	otprepo "github.com/akshithakatte/AgriConnect/internal/otp/repository"
	"github.com/akshithakatte/AgriConnect/internal/otp/sms"
	"github.com/akshithakatte/AgriConnect/internal/policy/engine"
	"github.com/akshithakatte/AgriConnect/internal/ratelimit"
	"github.com/akshithakatte/AgriConnect/internal/security"
	"github.com/akshithakatte/AgriConnect/internal/server/middleware"
	sessiondomain "github.com/akshithakatte/AgriConnect/internal/session/domain"
	"github.com/akshithakatte/AgriConnect/internal/telemetry"
	telemetryotel "github.com/akshithakatte/AgriConnect/internal/telemetry/otel"
	userdomain "github.com/akshithakatte/AgriConnect/internal/user/domain"
	userrepo "github.com/akshithakatte/AgriConnect/internal/user/repository"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrInvalidCodeFormat   = errors.New("invalid OTP format")
	ErrInvalidOTP          = errors.New("invalid OTP")
	ErrOTPExpired          = errors.New("OTP expired or not found")
	ErrTooManyAttempts     = errors.New("too many failed attempts")
	ErrRateLimited         = errors.New("too many requests")
	ErrPolicyDenied        = errors.New("login denied by policy")
	ErrDeliveryFailed      = errors.New("failed to deliver OTP")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReuse   = errors.New("refresh token reuse detected; all sessions revoked")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidProfile      = errors.New("invalid profile")
)

// RateLimitError is returned when a rate limit rule rejects the request. It matches ErrRateLimited.
type RateLimitError struct {
	Rule       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (%s), retry after %s", ErrRateLimited, e.Rule, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// PolicyDeniedError carries the login policy's reason. It matches ErrPolicyDenied.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	if e.Reason == "" {
		return ErrPolicyDenied.Error()
	}
	return ErrPolicyDenied.Error() + ": " + e.Reason
}

func (e *PolicyDeniedError) Is(target error) bool { return target == ErrPolicyDenied }

// Rate limit rule names, used in metrics and errors.
const (
	ruleSendIP    = "send_ip"
	ruleSendPhone = "send_phone"
	ruleVerifyIP  = "verify_ip"
)

// MessageOTPSent is the send-otp success message.
const MessageOTPSent = "OTP sent successfully"

// SendResult is the outcome of SendOTP. OTP is set only in dev OTP mode.
type SendResult struct {
	Message   string
	OTP       string
	ExpiresAt time.Time
}

// AuthResult holds the outcome of VerifyOTP or Refresh.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
	Role         userdomain.Role
	SessionID    string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByPhone(ctx context.Context, phone string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	Update(ctx context.Context, u *userdomain.User) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllSessionsByUser(ctx context.Context, userID string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	RotateRefreshToken(ctx context.Context, sessionID, oldJti, newJti, newHash string) (bool, error)
}

// ChallengeRepo is the minimal OTP challenge store needed by the auth service.
type ChallengeRepo interface {
	Save(ctx context.Context, c *otpdomain.Challenge) error
	GetByPhone(ctx context.Context, phone string) (*otpdomain.Challenge, error)
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	Consume(ctx context.Context, phone, id string) (bool, error)
	Delete(ctx context.Context, phone string) error
}

// Config holds the OTP and rate limit settings. Zero values fall back to the package defaults.
type Config struct {
	OTPTTL      time.Duration
	MaxAttempts int
	// SendPerHour caps send-otp per phone and per client IP; 0 disables the cap.
	SendPerHour int
	// VerifyPer10m caps verify-otp per client IP; 0 disables the cap.
	VerifyPer10m int
	// DevOTPMode skips SMS delivery and returns the code to the caller and the dev store.
	DevOTPMode bool
}

// Deps are the collaborators of AuthService. Users, Sessions, Challenges, Hasher and Tokens are required;
// the rest may be nil.
type Deps struct {
	Users      UserRepo
	Sessions   SessionRepo
	Challenges ChallengeRepo
	Hasher     *security.Hasher
	Tokens     *security.TokenProvider
	Limiter    ratelimit.Limiter
	Policy     engine.Evaluator
	SMS        sms.Sender
	DevStore   devotp.Store
	Audit      audit.AuditLogger
	Events     telemetry.EventEmitter
	Metrics    *telemetryotel.AuthMetrics
	Log        *zap.Logger
}

// AuthService implements phone/OTP login, token refresh, logout and profile access.
type AuthService struct {
	users      UserRepo
	sessions   SessionRepo
	challenges ChallengeRepo
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	limiter    ratelimit.Limiter
	policy     engine.Evaluator
	sms        sms.Sender
	devStore   devotp.Store
	audit      audit.AuditLogger
	events     telemetry.EventEmitter
	metrics    *telemetryotel.AuthMetrics
	log        *zap.Logger
	tracer     trace.Tracer
	cfg        Config
	now        func() time.Time
	generate   func() (string, error)
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(deps Deps, cfg Config) *AuthService {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = otprepo.DefaultChallengeTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = otprepo.DefaultMaxAttempts
	}
	s := &AuthService{
		users:      deps.Users,
		sessions:   deps.Sessions,
		challenges: deps.Challenges,
		hasher:     deps.Hasher,
		tokens:     deps.Tokens,
		limiter:    deps.Limiter,
		policy:     deps.Policy,
		sms:        deps.SMS,
		devStore:   deps.DevStore,
		audit:      deps.Audit,
		events:     deps.Events,
		metrics:    deps.Metrics,
		log:        deps.Log,
		tracer:     otel.Tracer("github.com/akshithakatte/AgriConnect/internal/identity/service"),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		generate:   otp.GenerateOTP,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// SendOTP issues a new OTP for phone, replacing any live one, and delivers it by SMS (or returns it in dev OTP mode).
// A phone number seen for the first time gets a user with the policy's default role.
func (s *AuthService) SendOTP(ctx context.Context, rawPhone, ip string) (_ *SendResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.SendOTP")
	defer func() { endSpan(span, err) }()

	phone, err := otp.NormalizePhone(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	sendRule := ratelimit.Rule{Limit: s.cfg.SendPerHour, Window: time.Hour}
	if err := s.allow(ctx, ruleSendIP, "send:ip:"+ip, sendRule, phone, ip); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, ruleSendPhone, "send:phone:"+phone, sendRule, phone, ip); err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	decision := s.evaluate(ctx, "send_otp", phone, ip, user)
	if !decision.Allow {
		s.denied(ctx, user, phone, ip, decision.Reason)
		s.metrics.OTPSent(ctx, "denied")
		return nil, &PolicyDeniedError{Reason: decision.Reason}
	}
	if user == nil {
		if user, err = s.createUser(ctx, phone, decision.DefaultRole); err != nil {
			return nil, err
		}
	}

	code, err := s.generate()
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.HashCode(phone, code)
	if err != nil {
		return nil, err
	}
	ttl := s.cfg.OTPTTL
	if decision.OTPTTL > 0 {
		ttl = decision.OTPTTL
	}
	maxAttempts := s.cfg.MaxAttempts
	if decision.MaxAttempts > 0 {
		maxAttempts = decision.MaxAttempts
	}
	now := s.now()
	ch := &otpdomain.Challenge{
		ID:          uuid.New().String(),
		Phone:       phone,
		UserID:      user.ID,
		CodeHash:    hash,
		MaxAttempts: maxAttempts,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := s.challenges.Save(ctx, ch); err != nil {
		return nil, err
	}

	res := &SendResult{Message: MessageOTPSent, ExpiresAt: ch.ExpiresAt}
	outcome := "sent"
	if s.cfg.DevOTPMode {
		if s.devStore != nil {
			s.devStore.Put(ctx, phone, code, ch.ExpiresAt)
		}
		res.OTP = code
		outcome = "dev"
	} else {
		if err := s.deliver(ctx, phone, code); err != nil {
			_ = s.challenges.Delete(ctx, phone)
			s.log.Warn("otp delivery failed", zap.String("phone", telemetry.MaskPhone(phone)), zap.Error(err))
			s.record(ctx, user.ID, auditdomain.ActionOTPSendFailed, "otp", map[string]string{"reason": "delivery_failed"})
			s.emit(&telemetry.AuthEvent{EventType: telemetry.EventOTPSendFailed, UserID: user.ID, Phone: telemetry.MaskPhone(phone), IP: ip})
			s.metrics.OTPSent(ctx, "delivery_failed")
			return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}

	s.record(ctx, user.ID, auditdomain.ActionOTPSent, "otp", map[string]string{"expires_at": ch.ExpiresAt.Format(time.RFC3339)})
	s.emit(&telemetry.AuthEvent{EventType: telemetry.EventOTPSent, UserID: user.ID, Phone: telemetry.MaskPhone(phone), IP: ip})
	s.metrics.OTPSent(ctx, outcome)
	return res, nil
}

// VerifyOTP checks code against the phone's live challenge. A correct code consumes the challenge,
// opens a session and returns tokens. A wrong code counts against the challenge's attempt cap.
func (s *AuthService) VerifyOTP(ctx context.Context, rawPhone, rawCode, ip string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.VerifyOTP")
	defer func() { endSpan(span, err) }()

	phone, err := otp.NormalizePhone(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	code, err := otp.ValidateCode(rawCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCodeFormat, err)
	}
	if err := s.allow(ctx, ruleVerifyIP, "verify:ip:"+ip, ratelimit.Rule{Limit: s.cfg.VerifyPer10m, Window: 10 * time.Minute}, phone, ip); err != nil {
		return nil, err
	}

	ch, err := s.challenges.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if ch == nil || ch.Expired(s.now()) {
		if ch != nil {
			s.dropChallenge(ctx, phone)
		}
		s.failed(ctx, "", phone, ip, "expired")
		return nil, ErrOTPExpired
	}
	// Reserve the attempt before comparing; the count is atomic in the store.
	attempts, err := s.challenges.IncrementAttempts(ctx, phone)
	if err != nil {
		return nil, err
	}
	if attempts == 0 {
		s.failed(ctx, ch.UserID, phone, ip, "expired")
		return nil, ErrOTPExpired
	}
	if ch.OverCap(attempts) {
		s.dropChallenge(ctx, phone)
		s.failed(ctx, ch.UserID, phone, ip, "too_many_attempts")
		return nil, ErrTooManyAttempts
	}
	if err := s.hasher.VerifyCode(ch.CodeHash, phone, code); err != nil {
		if !errors.Is(err, security.ErrCodeMismatch) {
			return nil, err
		}
		s.failed(ctx, ch.UserID, phone, ip, "invalid_otp")
		return nil, ErrInvalidOTP
	}
	consumed, err := s.challenges.Consume(ctx, phone, ch.ID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// A concurrent verification used the code first.
		s.failed(ctx, ch.UserID, phone, ip, "expired")
		return nil, ErrOTPExpired
	}
	if s.devStore != nil {
		s.devStore.Delete(ctx, phone)
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	decision := s.evaluate(ctx, "verify_otp", phone, ip, user)
	if !decision.Allow {
		s.denied(ctx, user, phone, ip, decision.Reason)
		return nil, &PolicyDeniedError{Reason: decision.Reason}
	}
	if user == nil {
		if user, err = s.createUser(ctx, phone, decision.DefaultRole); err != nil {
			return nil, err
		}
	}

	res, err := s.openSession(ctx, user, ip)
	if err != nil {
		return nil, err
	}
	s.record(ctx, user.ID, auditdomain.ActionLoginSuccess, "session", map[string]string{"session_id": res.SessionID})
	s.emit(&telemetry.AuthEvent{
		EventType: telemetry.EventLoginSucceeded, UserID: user.ID, SessionID: res.SessionID,
		Phone: telemetry.MaskPhone(phone), IP: ip, Metadata: map[string]string{"role": string(user.Role)},
	})
	s.metrics.Login(ctx, "success")
	return res, nil
}

// Refresh validates the refresh token, rotates it, and returns new tokens.
// Presenting a refresh token that was already rotated revokes every session of the user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	sessionID, jti, userID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		s.metrics.Refresh(ctx, "invalid")
		return nil, ErrInvalidRefreshToken
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active(s.now()) || sess.UserID != userID {
		s.metrics.Refresh(ctx, "invalid")
		return nil, ErrInvalidRefreshToken
	}
	if sess.RefreshJti != jti {
		return nil, s.reuseDetected(ctx, userID, sessionID, ip)
	}
	if !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		s.metrics.Refresh(ctx, "invalid")
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		_ = s.sessions.Revoke(ctx, sessionID)
		s.metrics.Refresh(ctx, "invalid")
		return nil, ErrInvalidRefreshToken
	}

	newRefresh, newJti, _, err := s.tokens.IssueRefresh(sessionID, userID)
	if err != nil {
		return nil, err
	}
	rotated, err := s.sessions.RotateRefreshToken(ctx, sessionID, jti, newJti, security.HashRefreshToken(newRefresh))
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Another request rotated this token between the read and the swap.
		return nil, s.reuseDetected(ctx, userID, sessionID, ip)
	}
	if err := s.sessions.UpdateLastSeen(ctx, sessionID, s.now()); err != nil {
		s.log.Warn("session last-seen update failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	accessToken, _, accessExp, err := s.tokens.IssueAccess(sessionID, userID, string(user.Role))
	if err != nil {
		return nil, err
	}
	s.record(ctx, userID, auditdomain.ActionTokenRefreshed, "session", map[string]string{"session_id": sessionID})
	s.emit(&telemetry.AuthEvent{EventType: telemetry.EventTokenRefreshed, UserID: userID, SessionID: sessionID, IP: ip})
	s.metrics.Refresh(ctx, "rotated")
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    accessExp,
		UserID:       userID,
		Role:         user.Role,
		SessionID:    sessionID,
	}, nil
}

// Logout revokes the session identified by the refresh token or by the access token in context.
// If refreshToken is non-empty, validates it and revokes that session.
// If refreshToken is empty and the auth middleware set session_id in context (Bearer access token), revokes that session.
// Otherwise no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	var sessionID, userID string
	if refreshToken != "" {
		sid, _, uid, err := s.tokens.ValidateRefresh(refreshToken)
		if err != nil {
			return nil
		}
		sessionID, userID = sid, uid
	} else {
		sid, ok := middleware.GetSessionID(ctx)
		if !ok || sid == "" {
			return nil
		}
		sessionID = sid
		userID, _ = middleware.GetUserID(ctx)
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.record(ctx, userID, auditdomain.ActionLogout, "session", map[string]string{"session_id": sessionID})
	s.emit(&telemetry.AuthEvent{EventType: telemetry.EventLogout, UserID: userID, SessionID: sessionID})
	return nil
}

// Me returns the user with id userID.
func (s *AuthService) Me(ctx context.Context, userID string) (*userdomain.User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ProfileUpdate lists the profile fields a user may change. Nil fields are left as they are.
type ProfileUpdate struct {
	Name     *string
	Language *string
}

// maxNameLen bounds a display name in runes.
const maxNameLen = 100

// UpdateProfile applies upd to the user's name and language. The HTTP audit middleware records the change.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*userdomain.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if len([]rune(name)) > maxNameLen {
			return nil, fmt.Errorf("%w: name longer than %d characters", ErrInvalidProfile, maxNameLen)
		}
		u.Name = name
	}
	if upd.Language != nil {
		lang := strings.TrimSpace(*upd.Language)
		if lang == "" {
			return nil, fmt.Errorf("%w: language must not be empty", ErrInvalidProfile)
		}
		u.Language = lang
	}
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) allow(ctx context.Context, rule, key string, r ratelimit.Rule, phone, ip string) error {
	res, err := s.limiter.Allow(ctx, key, r)
	if err != nil {
		// Limiter errors fail open.
		s.log.Warn("rate limiter unavailable", zap.String("rule", rule), zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}
	s.metrics.RateLimited(ctx, rule)
	s.emit(&telemetry.AuthEvent{
		EventType: telemetry.EventRateLimited, Phone: telemetry.MaskPhone(phone), IP: ip,
		Metadata: map[string]string{"rule": rule},
	})
	return &RateLimitError{Rule: rule, RetryAfter: res.RetryAfter}
}

// dropChallenge removes the phone's challenge and its dev copy. Best effort.
func (s *AuthService) dropChallenge(ctx context.Context, phone string) {
	if err := s.challenges.Delete(ctx, phone); err != nil {
		s.log.Warn("delete otp challenge", zap.Error(err))
	}
	if s.devStore != nil {
		s.devStore.Delete(ctx, phone)
	}
}

// reasonDeactivated is the denial reason for an inactive account.
const reasonDeactivated = "account is deactivated"

// evaluate asks the login policy about phone. Evaluation errors fall back to engine.DefaultDecision.
// An inactive account is denied whatever the policy says.
func (s *AuthService) evaluate(ctx context.Context, action, phone, ip string, user *userdomain.User) engine.LoginDecision {
	decision := engine.DefaultDecision()
	if s.policy != nil {
		in := engine.LoginInput{Action: action, Phone: phone, IP: ip}
		if user != nil {
			in.UserExists = true
			in.UserActive = user.Active
			in.UserRole = string(user.Role)
		}
		d, err := s.policy.EvaluateLogin(ctx, in)
		if err != nil {
			s.log.Warn("login policy evaluation failed, using default decision", zap.String("action", action), zap.Error(err))
		} else {
			decision = d
		}
	}
	if user != nil && !user.Active && decision.Allow {
		decision.Allow = false
		decision.Reason = reasonDeactivated
	}
	return decision
}

func (s *AuthService) createUser(ctx context.Context, phone, role string) (*userdomain.User, error) {
	now := s.now()
	u := &userdomain.User{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		Role:        userdomain.Role(role),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !u.Role.Valid() {
		u.Role = userdomain.RoleFarmer
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicatePhone) {
			// Lost a race with a concurrent first login for the same phone.
			return s.users.GetByPhone(ctx, phone)
		}
		return nil, err
	}
	return u, nil
}

func (s *AuthService) deliver(ctx context.Context, phone, code string) error {
	if s.sms == nil {
		return sms.ErrNotConfigured
	}
	return s.sms.SendOTP(ctx, phone, code)
}

func (s *AuthService) openSession(ctx context.Context, user *userdomain.User, ip string) (*AuthResult, error) {
	now := s.now()
	sessionID := uuid.New().String()
	refreshToken, jti, _, err := s.tokens.IssueRefresh(sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, _, accessExp, err := s.tokens.IssueAccess(sessionID, user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	sess := &sessiondomain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		ExpiresAt:        now.Add(s.tokens.RefreshTTL()),
		LastSeenAt:       &now,
		IPAddress:        ip,
		RefreshJti:       jti,
		RefreshTokenHash: security.HashRefreshToken(refreshToken),
		CreatedAt:        now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExp,
		UserID:       user.ID,
		Role:         user.Role,
		SessionID:    sessionID,
	}, nil
}

func (s *AuthService) reuseDetected(ctx context.Context, userID, sessionID, ip string) error {
	if err := s.sessions.RevokeAllSessionsByUser(ctx, userID); err != nil {
		s.log.Error("revoke sessions after refresh reuse failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.record(ctx, userID, auditdomain.ActionRefreshReuseDetected, "session", map[string]string{"session_id": sessionID})
	s.emit(&telemetry.AuthEvent{EventType: telemetry.EventRefreshReuse, UserID: userID, SessionID: sessionID, IP: ip})
	s.metrics.Refresh(ctx, "reuse_detected")
	return ErrRefreshTokenReuse
}

func (s *AuthService) failed(ctx context.Context, userID, phone, ip, reason string) {
	s.record(ctx, userID, auditdomain.ActionLoginFailure, "otp", map[string]string{"reason": reason})
	s.emit(&telemetry.AuthEvent{EventType: telemetry.EventLoginFailed, UserID: userID, Phone: telemetry.MaskPhone(phone), IP: ip, Reason: reason})
	s.metrics.Login(ctx, reason)
}

func (s *AuthService) denied(ctx context.Context, user *userdomain.User, phone, ip, reason string) {
	var userID string
	if user != nil {
		userID = user.ID
	}
	s.record(ctx, userID, auditdomain.ActionLoginDenied, "otp", map[string]string{"reason": reason})
	s.emit(&telemetry.AuthEvent{EventType: telemetry.EventLoginDenied, UserID: userID, Phone: telemetry.MaskPhone(phone), IP: ip, Reason: reason})
}

// record writes an audit entry; metadata is stored as JSON.
func (s *AuthService) record(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if s.audit == nil {
		return
	}
	var meta string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}
	s.audit.LogEvent(ctx, userID, action, resource, meta)
}

func (s *AuthService) emit(event *telemetry.AuthEvent) {
	if s.events == nil {
		return
	}
	event.Source = telemetry.SourceAuthService
	telemetry.EmitAsync(s.events, s.log, event)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("agriconnect.auth.failed", true))
	}
	span.End()
}
