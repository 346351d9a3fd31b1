package authflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAPI records calls and answers with the configured functions.
type fakeAPI struct {
	mu          sync.Mutex
	sendCalls   []string
	verifyCalls [][2]string
	send        func(phone string) (*SendResult, error)
	verify      func(phone, code string) (*Session, error)
}

func (f *fakeAPI) SendOTP(ctx context.Context, phone string) (*SendResult, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, phone)
	fn := f.send
	f.mu.Unlock()
	if fn == nil {
		return &SendResult{Message: "OTP sent successfully"}, nil
	}
	return fn(phone)
}

func (f *fakeAPI) VerifyOTP(ctx context.Context, phone, code string) (*Session, error) {
	f.mu.Lock()
	f.verifyCalls = append(f.verifyCalls, [2]string{phone, code})
	fn := f.verify
	f.mu.Unlock()
	if fn == nil {
		return &Session{AccessToken: "access", RefreshToken: "refresh", TokenType: "bearer", UserID: "user-1", Role: "farmer"}, nil
	}
	return fn(phone, code)
}

func (f *fakeAPI) counts() (send, verify int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sendCalls), len(f.verifyCalls)
}

type recordingNav struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNav) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNav) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

func newController() (*Controller, *fakeAPI, *recordingNav) {
	api := &fakeAPI{}
	nav := &recordingNav{}
	return New(api, nav), api, nav
}

func TestSubmitPhone_EmptyNeverSends(t *testing.T) {
	c, api, _ := newController()
	for _, in := range []string{"", "   ", "\t"} {
		err := c.SubmitPhone(context.Background(), in)
		require.Error(t, err)
		assert.Equal(t, ClassInvalidInput, Classify(err))
	}
	send, _ := api.counts()
	assert.Zero(t, send)
	s := c.Snapshot()
	assert.Equal(t, PhasePhoneEntry, s.Phase)
	assert.False(t, s.Pending)
	assert.Equal(t, ClassInvalidInput, Classify(s.Err))
}

func TestSubmitPhone_MalformedNeverSends(t *testing.T) {
	c, api, _ := newController()
	for _, in := range []string{"12345", "+91-abc-99999", "1234567890123456"} {
		err := c.SubmitPhone(context.Background(), in)
		var inErr *InputError
		require.ErrorAs(t, err, &inErr, in)
		assert.Equal(t, FieldPhone, inErr.Field)
	}
	send, _ := api.counts()
	assert.Zero(t, send)
}

func TestSubmitOTP_EmptyNeverSends(t *testing.T) {
	c, api, _ := newController()
	require.NoError(t, c.SubmitPhone(context.Background(), "+919999999999"))
	for _, in := range []string{"", "  ", "12", "12345a"} {
		err := c.SubmitOTP(context.Background(), in)
		var inErr *InputError
		require.ErrorAs(t, err, &inErr, in)
		assert.Equal(t, FieldOTP, inErr.Field)
	}
	_, verify := api.counts()
	assert.Zero(t, verify)
	assert.Equal(t, PhaseOTPEntry, c.Snapshot().Phase)
}

func TestHappyPath_NavigatesOnce(t *testing.T) {
	c, api, nav := newController()
	ctx := context.Background()

	require.NoError(t, c.SubmitPhone(ctx, "+919999999999"))
	s := c.Snapshot()
	assert.Equal(t, PhaseOTPEntry, s.Phase)
	assert.Equal(t, "OTP sent successfully", s.Notice)
	assert.False(t, s.Pending)

	require.NoError(t, c.SubmitOTP(ctx, "123456"))
	s = c.Snapshot()
	assert.Equal(t, PhaseAuthenticated, s.Phase)
	require.NotNil(t, s.Session)
	assert.Equal(t, "access", s.Session.AccessToken)
	assert.Empty(t, s.OTP)
	assert.Nil(t, s.Err)

	assert.Equal(t, []string{DashboardRoute}, nav.got())
	assert.Equal(t, []string{"+919999999999"}, api.sendCalls)
	assert.Equal(t, [][2]string{{"+919999999999", "123456"}}, api.verifyCalls)

	// Authenticated is terminal: further submissions do nothing.
	assert.ErrorIs(t, c.SubmitOTP(ctx, "123456"), ErrWrongPhase)
	assert.ErrorIs(t, c.SubmitPhone(ctx, "+919999999999"), ErrWrongPhase)
	c.ChangePhone()
	assert.Equal(t, PhaseAuthenticated, c.Snapshot().Phase)
	assert.Equal(t, []string{DashboardRoute}, nav.got())
}

func TestSubmitPhone_NormalizesBeforeSending(t *testing.T) {
	c, api, _ := newController()
	require.NoError(t, c.SubmitPhone(context.Background(), " +91 99999-99999 "))
	assert.Equal(t, []string{"+919999999999"}, api.sendCalls)
	assert.Equal(t, "+91 99999-99999", c.Snapshot().PhoneNumber)
}

func TestSubmitPhone_FailureStaysOnPhoneEntry(t *testing.T) {
	c, api, _ := newController()
	api.send = func(string) (*SendResult, error) {
		return nil, &TransportError{Op: OpSendOTP, Err: errors.New("connection refused")}
	}
	err := c.SubmitPhone(context.Background(), "+919999999999")
	require.Error(t, err)
	s := c.Snapshot()
	assert.Equal(t, PhasePhoneEntry, s.Phase)
	assert.False(t, s.Pending)
	assert.Equal(t, ClassTransport, Classify(s.Err))
	assert.NotEmpty(t, Message(s.Err))
}

func TestSubmitPhone_UntypedErrorIsTransport(t *testing.T) {
	c, api, _ := newController()
	api.send = func(string) (*SendResult, error) { return nil, context.DeadlineExceeded }
	err := c.SubmitPhone(context.Background(), "+919999999999")
	var tr *TransportError
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, OpSendOTP, tr.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitOTP_Rejected401StaysOnOTPEntry(t *testing.T) {
	c, api, nav := newController()
	api.verify = func(string, string) (*Session, error) {
		return nil, &RejectedError{Op: OpVerifyOTP, Status: http.StatusUnauthorized, Code: "invalid_otp", Detail: "invalid OTP"}
	}
	require.NoError(t, c.SubmitPhone(context.Background(), "+919999999999"))
	err := c.SubmitOTP(context.Background(), "123456")
	require.Error(t, err)

	s := c.Snapshot()
	assert.Equal(t, PhaseOTPEntry, s.Phase)
	assert.False(t, s.Pending)
	assert.Equal(t, ClassRejected, Classify(s.Err))
	assert.Equal(t, "123456", s.OTP)
	assert.Empty(t, nav.got())
}

func TestChangePhone_ClearsOTPKeepsPhone(t *testing.T) {
	c, api, _ := newController()
	api.verify = func(string, string) (*Session, error) {
		return nil, &RejectedError{Op: OpVerifyOTP, Status: http.StatusUnauthorized, Code: "invalid_otp"}
	}
	require.NoError(t, c.SubmitPhone(context.Background(), "+919999999999"))
	_ = c.SubmitOTP(context.Background(), "654321")

	c.ChangePhone()
	s := c.Snapshot()
	assert.Equal(t, PhasePhoneEntry, s.Phase)
	assert.Empty(t, s.OTP)
	assert.Equal(t, "+919999999999", s.PhoneNumber)
	assert.Nil(t, s.Err)

	// From phone entry it is a no-op apart from clearing.
	c.ChangePhone()
	assert.Equal(t, PhasePhoneEntry, c.Snapshot().Phase)
}

func TestResend(t *testing.T) {
	c, api, _ := newController()
	ctx := context.Background()
	assert.ErrorIs(t, c.Resend(ctx), ErrWrongPhase)

	api.send = func(string) (*SendResult, error) { return &SendResult{Message: "OTP sent successfully", DevOTP: "111111"}, nil }
	require.NoError(t, c.SubmitPhone(ctx, "9999999999"))
	api.verify = func(string, string) (*Session, error) {
		return nil, &RejectedError{Op: OpVerifyOTP, Status: http.StatusUnauthorized, Code: CodeOTPExpired}
	}
	_ = c.SubmitOTP(ctx, "111111")

	api.send = func(string) (*SendResult, error) { return &SendResult{Message: "OTP sent successfully", DevOTP: "222222"}, nil }
	require.NoError(t, c.Resend(ctx))
	s := c.Snapshot()
	assert.Equal(t, PhaseOTPEntry, s.Phase)
	assert.Empty(t, s.OTP)
	assert.Nil(t, s.Err)
	assert.Equal(t, "222222", s.DevOTP)
	assert.Equal(t, []string{"9999999999", "9999999999"}, api.sendCalls)
}

// gate blocks API calls until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func TestPending_BlocksDuplicateSubmissions(t *testing.T) {
	c, api, _ := newController()
	g := newGate()
	api.send = func(string) (*SendResult, error) {
		g.wait()
		return &SendResult{Message: "ok"}, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.SubmitPhone(context.Background(), "+919999999999") }()
	<-g.entered

	assert.True(t, c.Snapshot().Pending)
	assert.ErrorIs(t, c.SubmitPhone(context.Background(), "+919999999999"), ErrPending)

	close(g.release)
	require.NoError(t, <-done)
	send, _ := api.counts()
	assert.Equal(t, 1, send)
	s := c.Snapshot()
	assert.False(t, s.Pending)
	assert.Equal(t, PhaseOTPEntry, s.Phase)
}

func TestConcurrentSubmits_TransitionOnce(t *testing.T) {
	c, api, _ := newController()
	var transitions atomic.Int32
	api.send = func(string) (*SendResult, error) {
		time.Sleep(5 * time.Millisecond)
		return &SendResult{Message: "ok"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SubmitPhone(context.Background(), "+919999999999") == nil {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), transitions.Load())
	send, _ := api.counts()
	assert.Equal(t, 1, send)
	assert.Equal(t, PhaseOTPEntry, c.Snapshot().Phase)
}

func TestChangePhone_InFlightVerifyIsStale(t *testing.T) {
	c, api, nav := newController()
	require.NoError(t, c.SubmitPhone(context.Background(), "+919999999999"))
	g := newGate()
	api.verify = func(string, string) (*Session, error) {
		g.wait()
		return &Session{AccessToken: "late"}, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.SubmitOTP(context.Background(), "123456") }()
	<-g.entered

	c.ChangePhone()
	s := c.Snapshot()
	assert.Equal(t, PhasePhoneEntry, s.Phase)
	assert.True(t, s.Pending, "pending clears only when the request settles")

	close(g.release)
	assert.ErrorIs(t, <-done, ErrStale)
	s = c.Snapshot()
	assert.Equal(t, PhasePhoneEntry, s.Phase)
	assert.False(t, s.Pending)
	assert.Nil(t, s.Session)
	assert.Empty(t, nav.got())
}

func TestNilNavigator(t *testing.T) {
	c := New(&fakeAPI{}, nil)
	require.NoError(t, c.SubmitPhone(context.Background(), "+919999999999"))
	require.NoError(t, c.SubmitOTP(context.Background(), "123456"))
	assert.Equal(t, PhaseAuthenticated, c.Snapshot().Phase)
}

func TestSnapshot_IsACopy(t *testing.T) {
	c, _, _ := newController()
	require.NoError(t, c.SubmitPhone(context.Background(), "+919999999999"))
	require.NoError(t, c.SubmitOTP(context.Background(), "123456"))
	s := c.Snapshot()
	s.Session.AccessToken = "mutated"
	assert.Equal(t, "access", c.Snapshot().Session.AccessToken)
}

func TestSnapshot_AfterLogin(t *testing.T) {
	c, api, _ := newController()
	api.send = func(string) (*SendResult, error) { return &SendResult{Message: "OTP sent successfully", DevOTP: "123456"}, nil }
	require.NoError(t, c.SubmitPhone(context.Background(), " +91 99999 99999 "))
	require.NoError(t, c.SubmitOTP(context.Background(), "123456"))

	want := Snapshot{
		Phase:       PhaseAuthenticated,
		PhoneNumber: "+91 99999 99999",
		Notice:      "OTP sent successfully",
		DevOTP:      "123456",
		Session:     &Session{AccessToken: "access", RefreshToken: "refresh", TokenType: "bearer", UserID: "user-1", Role: "farmer"},
	}
	if diff := cmp.Diff(want, c.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigatorFunc(t *testing.T) {
	var got string
	NavigatorFunc(func(r string) { got = r }).Navigate(DashboardRoute)
	assert.Equal(t, DashboardRoute, got)
}
