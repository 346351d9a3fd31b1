// Package authflow is the client side of phone/OTP login: a two-phase state machine (phone entry, then
// code entry) that talks to an API and hands control to the dashboard once the code is accepted.
package authflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/otp"
)

// Controller drives one login attempt. It is safe for concurrent use; API calls run without holding the lock.
type Controller struct {
	api API
	nav Navigator
	log *zap.Logger

	mu    sync.Mutex
	state Snapshot
	// phone is the normalized number the current OTP was requested for.
	phone string
	// epoch increments on ChangePhone; a request that settles under an older epoch is stale.
	epoch     uint64
	navigated bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger. Codes and tokens are never logged.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// New returns a controller in PhasePhoneEntry. nav may be nil.
func New(api API, nav Navigator, opts ...Option) *Controller {
	c := &Controller{api: api, nav: nav, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	return s
}

// SubmitPhone requests an OTP for phone. Empty or malformed input fails with *InputError and sends nothing.
// On success the controller moves to PhaseOTPEntry; on failure it stays in PhasePhoneEntry with the error
// kept in the snapshot.
func (c *Controller) SubmitPhone(ctx context.Context, phone string) error {
	c.mu.Lock()
	if c.state.Phase != PhasePhoneEntry {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.state.Pending {
		c.mu.Unlock()
		return ErrPending
	}
	phone = strings.TrimSpace(phone)
	c.state.PhoneNumber = phone
	normalized, err := validatePhone(phone)
	if err != nil {
		c.state.Err = err
		c.mu.Unlock()
		return err
	}
	epoch := c.begin()
	c.mu.Unlock()

	res, err := c.api.SendOTP(ctx, normalized)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Pending = false
	if epoch != c.epoch {
		return ErrStale
	}
	if err != nil {
		return c.fail(OpSendOTP, err)
	}
	c.phone = normalized
	c.state.Phase = PhaseOTPEntry
	c.state.OTP = ""
	c.accept(res)
	return nil
}

// SubmitOTP verifies code for the phone number of the current challenge. Empty or malformed input fails with
// *InputError and sends nothing. On success the controller enters PhaseAuthenticated and navigates to
// DashboardRoute exactly once; on failure it stays in PhaseOTPEntry with the error kept in the snapshot.
func (c *Controller) SubmitOTP(ctx context.Context, code string) error {
	c.mu.Lock()
	if c.state.Phase != PhaseOTPEntry {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.state.Pending {
		c.mu.Unlock()
		return ErrPending
	}
	code = strings.TrimSpace(code)
	c.state.OTP = code
	if err := validateCode(code); err != nil {
		c.state.Err = err
		c.mu.Unlock()
		return err
	}
	phone := c.phone
	epoch := c.begin()
	c.mu.Unlock()

	sess, err := c.api.VerifyOTP(ctx, phone, code)

	c.mu.Lock()
	c.state.Pending = false
	if epoch != c.epoch {
		c.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		err = c.fail(OpVerifyOTP, err)
		c.mu.Unlock()
		return err
	}
	c.state.Phase = PhaseAuthenticated
	c.state.OTP = ""
	c.state.Err = nil
	c.state.Session = sess
	navigate := !c.navigated && c.nav != nil
	c.navigated = true
	c.mu.Unlock()

	c.log.Info("login verified", zap.String("user_id", sessUserID(sess)))
	if navigate {
		c.nav.Navigate(DashboardRoute)
	}
	return nil
}

// Resend requests a new OTP for the current phone number. The phase stays PhaseOTPEntry and the typed code
// is cleared.
func (c *Controller) Resend(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Phase != PhaseOTPEntry {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.state.Pending {
		c.mu.Unlock()
		return ErrPending
	}
	phone := c.phone
	c.state.OTP = ""
	epoch := c.begin()
	c.mu.Unlock()

	res, err := c.api.SendOTP(ctx, phone)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Pending = false
	if epoch != c.epoch {
		return ErrStale
	}
	if err != nil {
		return c.fail(OpSendOTP, err)
	}
	c.accept(res)
	return nil
}

// ChangePhone returns to PhasePhoneEntry, clearing the code and keeping the phone number. A request in flight
// becomes stale: when it settles it only clears Pending. It has no effect once authenticated.
func (c *Controller) ChangePhone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == PhaseAuthenticated {
		return
	}
	c.epoch++
	c.state.Phase = PhasePhoneEntry
	c.state.OTP = ""
	c.state.Err = nil
	c.state.Notice = ""
	c.state.DevOTP = ""
}

// begin marks a request as in flight. c.mu must be held.
func (c *Controller) begin() uint64 {
	c.state.Pending = true
	c.state.Err = nil
	return c.epoch
}

// accept records a successful send. c.mu must be held.
func (c *Controller) accept(res *SendResult) {
	c.state.Err = nil
	c.state.Notice, c.state.DevOTP = "", ""
	if res != nil {
		c.state.Notice = res.Message
		c.state.DevOTP = res.DevOTP
	}
}

// fail records err as the snapshot error. Untyped errors become transport errors. c.mu must be held.
func (c *Controller) fail(op Op, err error) error {
	var tr *TransportError
	var rej *RejectedError
	if !errors.As(err, &tr) && !errors.As(err, &rej) {
		err = &TransportError{Op: op, Err: err}
	}
	c.state.Err = err
	c.log.Debug("auth request failed", zap.String("op", string(op)), zap.Stringer("class", Classify(err)), zap.Error(err))
	return err
}

func validatePhone(phone string) (string, error) {
	if phone == "" {
		return "", &InputError{Field: FieldPhone, Reason: "phone number is required"}
	}
	normalized, err := otp.NormalizePhone(phone)
	if err != nil {
		return "", &InputError{Field: FieldPhone, Reason: err.Error()}
	}
	return normalized, nil
}

func validateCode(code string) error {
	if code == "" {
		return &InputError{Field: FieldOTP, Reason: "code is required"}
	}
	if _, err := otp.ValidateCode(code); err != nil {
		return &InputError{Field: FieldOTP, Reason: err.Error()}
	}
	return nil
}

func sessUserID(s *Session) string {
	if s == nil {
		return ""
	}
	return s.UserID
}
