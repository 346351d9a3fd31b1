// Package authclient is the HTTP client of the AgriConnect auth API. It implements authflow.API and turns
// failures into authflow transport and rejection errors.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akshithakatte/AgriConnect/internal/authflow"
)

// DefaultBaseURL is the API address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client calls the auth API at BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client for baseURL with a 15s request timeout.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

var _ authflow.API = (*Client)(nil)

type sendOTPResponse struct {
	Message string `json:"message"`
	OTP     string `json:"otp"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// User is the body of GET /api/auth/me.
type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Language    string    `json:"language"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Health is the body of GET /api/health.
type Health struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// SendOTP calls POST /api/auth/send-otp.
func (c *Client) SendOTP(ctx context.Context, phone string) (*authflow.SendResult, error) {
	var out sendOTPResponse
	if err := c.do(ctx, authflow.OpSendOTP, http.MethodPost, "/api/auth/send-otp", "", map[string]string{"phone_number": phone}, &out); err != nil {
		return nil, err
	}
	return &authflow.SendResult{Message: out.Message, DevOTP: out.OTP}, nil
}

// VerifyOTP calls POST /api/auth/verify-otp.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*authflow.Session, error) {
	var out tokenResponse
	body := map[string]string{"phone_number": phone, "otp": code}
	if err := c.do(ctx, authflow.OpVerifyOTP, http.MethodPost, "/api/auth/verify-otp", "", body, &out); err != nil {
		return nil, err
	}
	return out.session(), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*authflow.Session, error) {
	var out tokenResponse
	if err := c.do(ctx, "refresh", http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refreshToken}, &out); err != nil {
		return nil, err
	}
	return out.session(), nil
}

// Logout revokes the session of refreshToken. accessToken may be empty.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	return c.do(ctx, "logout", http.MethodPost, "/api/auth/logout", accessToken, map[string]string{"refresh_token": refreshToken}, nil)
}

// Me returns the user the access token belongs to.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var out User
	if err := c.do(ctx, "me", http.MethodGet, "/api/auth/me", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reads GET /api/health. An unhealthy server (503) is reported as a *authflow.TransportError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, "health", http.MethodGet, "/api/health", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tokenResponse) session() *authflow.Session {
	return &authflow.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		UserID:       r.UserID,
		Role:         r.Role,
		ExpiresAt:    r.ExpiresAt,
	}
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, op authflow.Op, method, path, bearer string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &authflow.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &authflow.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &authflow.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorBody is the API's error shape. detail may be a string or, from some proxies, any JSON value.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Code   string          `json:"code"`
}

// classify maps a non-2xx response: 5xx and 429 are transport errors, other 4xx are rejections.
func classify(op authflow.Op, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	code, detail := parseErrorBody(raw)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		msg := detail
		if msg == "" {
			msg = resp.Status
		}
		return &authflow.TransportError{
			Op:         op,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        errors.New(msg),
		}
	}
	return &authflow.RejectedError{Op: op, Status: resp.StatusCode, Code: code, Detail: detail}
}

func parseErrorBody(raw []byte) (code, detail string) {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return "", strings.TrimSpace(string(raw))
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			detail = s
		} else {
			detail = string(eb.Detail)
		}
	}
	return eb.Code, detail
}

// parseRetryAfter accepts delay-seconds; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
