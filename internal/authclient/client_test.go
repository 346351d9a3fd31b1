package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/akshithakatte/AgriConnect/internal/authflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newServer serves handler and closes idle client connections on cleanup so no goroutines leak.
func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(srv.URL)
	t.Cleanup(func() {
		c.HTTPClient.CloseIdleConnections()
		srv.Close()
	})
	return c
}

func TestSendOTP(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/send-otp", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"phone_number": "+919999999999"}, body)
		_, _ = w.Write([]byte(`{"message":"OTP sent successfully","otp":"123456"}`))
	})
	res, err := c.SendOTP(context.Background(), "+919999999999")
	require.NoError(t, err)
	assert.Equal(t, "OTP sent successfully", res.Message)
	assert.Equal(t, "123456", res.DevOTP)
}

func TestVerifyOTP(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/verify-otp", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "123456", body["otp"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "a", "refresh_token": "r", "token_type": "bearer",
			"user_id": "u1", "role": "farmer", "expires_at": exp,
		})
	})
	sess, err := c.VerifyOTP(context.Background(), "+919999999999", "123456")
	require.NoError(t, err)
	assert.Equal(t, &authflow.Session{
		AccessToken: "a", RefreshToken: "r", TokenType: "bearer", UserID: "u1", Role: "farmer", ExpiresAt: exp,
	}, sess)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		header map[string]string
		class  authflow.Class
		code   string
		detail string
	}{
		{"invalid otp", 401, `{"detail":"invalid OTP","code":"invalid_otp"}`, nil, authflow.ClassRejected, "invalid_otp", "invalid OTP"},
		{"policy", 403, `{"detail":"login denied by policy","code":"policy_denied"}`, nil, authflow.ClassRejected, "policy_denied", "login denied by policy"},
		{"validation list", 422, `{"detail":[{"msg":"field required"}]}`, nil, authflow.ClassRejected, "", `[{"msg":"field required"}]`},
		{"plain text", 400, `bad request`, nil, authflow.ClassRejected, "", "bad request"},
		{"rate limited", 429, `{"detail":"too many requests","code":"rate_limited"}`, map[string]string{"Retry-After": "42"}, authflow.ClassTransport, "", ""},
		{"gateway", 502, `{"detail":"failed to deliver OTP","code":"delivery_failed"}`, nil, authflow.ClassTransport, "", ""},
		{"empty 500", 500, ``, nil, authflow.ClassTransport, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.VerifyOTP(context.Background(), "+919999999999", "123456")
			require.Error(t, err)
			assert.Equal(t, tc.class, authflow.Classify(err))

			var rej *authflow.RejectedError
			if errors.As(err, &rej) {
				assert.Equal(t, tc.status, rej.Status)
				assert.Equal(t, authflow.OpVerifyOTP, rej.Op)
				assert.Equal(t, tc.code, rej.Code)
				assert.Equal(t, tc.detail, rej.Detail)
			}
			var tr *authflow.TransportError
			if errors.As(err, &tr) {
				assert.Equal(t, tc.status, tr.Status)
				if tc.status == 429 {
					assert.Equal(t, 42*time.Second, tr.RetryAfter)
				}
			}
		})
	}
}

func TestNetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	_, err := c.SendOTP(context.Background(), "+919999999999")
	var tr *authflow.TransportError
	require.ErrorAs(t, err, &tr)
	assert.Zero(t, tr.Status)
	assert.Equal(t, authflow.OpSendOTP, tr.Op)
}

func TestMalformedSuccessBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	_, err := c.SendOTP(context.Background(), "+919999999999")
	assert.Equal(t, authflow.ClassTransport, authflow.Classify(err))
}

func TestMeAndRefresh(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/me":
			if r.Header.Get("Authorization") != "Bearer good" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"missing or invalid authorization","code":"unauthorized"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"u1","phone_number":"+919999999999","role":"farmer","language":"en","is_active":true}`))
		case "/api/auth/refresh":
			_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"bearer","user_id":"u1","role":"farmer"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()
	u, err := c.Me(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "+919999999999", u.PhoneNumber)
	assert.True(t, u.IsActive)

	_, err = c.Me(ctx, "bad")
	var rej *authflow.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "unauthorized", rej.Code)

	sess, err := c.Refresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r2", sess.RefreshToken)
}

func TestLogout(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/logout", r.URL.Path)
		assert.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["refresh_token"])
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.Logout(context.Background(), "a1", "r1"))
}

func TestHealth(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","version":"dev","checks":{"database":"error: refused"}}`))
	})
	_, err := c.Health(context.Background())
	var tr *authflow.TransportError
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, http.StatusServiceUnavailable, tr.Status)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestNewDefaultsBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("").BaseURL)
}

func TestControllerOverHTTP(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/send-otp":
			_, _ = w.Write([]byte(`{"message":"OTP sent successfully"}`))
		case "/api/auth/verify-otp":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["otp"] != "123456" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"invalid OTP","code":"invalid_otp"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","token_type":"bearer","user_id":"u1","role":"farmer"}`))
		}
	})
	var routes []string
	ctrl := authflow.New(c, authflow.NavigatorFunc(func(r string) { routes = append(routes, r) }))
	ctx := context.Background()

	require.NoError(t, ctrl.SubmitPhone(ctx, "+919999999999"))
	require.Equal(t, authflow.PhaseOTPEntry, ctrl.Snapshot().Phase)

	err := ctrl.SubmitOTP(ctx, "000000")
	assert.Equal(t, authflow.ClassRejected, authflow.Classify(err))
	s := ctrl.Snapshot()
	assert.Equal(t, authflow.PhaseOTPEntry, s.Phase)
	assert.False(t, s.Pending)
	assert.Empty(t, routes)

	require.NoError(t, ctrl.SubmitOTP(ctx, "123456"))
	assert.Equal(t, authflow.PhaseAuthenticated, ctrl.Snapshot().Phase)
	assert.Equal(t, []string{authflow.DashboardRoute}, routes)
}
