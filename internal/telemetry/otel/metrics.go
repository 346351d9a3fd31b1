package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// AuthMetrics counts auth-flow outcomes. A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	otpSent     metric.Int64Counter
	logins      metric.Int64Counter
	rateLimited metric.Int64Counter
	refreshes   metric.Int64Counter
}

// NewAuthMetrics registers the auth counters on meter. A nil meter uses a no-op meter.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(instrumentationName)
	}
	otpSent, err := meter.Int64Counter("agriconnect.auth.otp_sent",
		metric.WithDescription("OTP send attempts by outcome"))
	if err != nil {
		return nil, err
	}
	logins, err := meter.Int64Counter("agriconnect.auth.logins",
		metric.WithDescription("OTP verifications by outcome"))
	if err != nil {
		return nil, err
	}
	rateLimited, err := meter.Int64Counter("agriconnect.auth.rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter"))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("agriconnect.auth.refreshes",
		metric.WithDescription("Refresh token rotations by outcome"))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{otpSent: otpSent, logins: logins, rateLimited: rateLimited, refreshes: refreshes}, nil
}

// OTPSent records one send-otp outcome ("sent", "dev", "delivery_failed", "denied").
func (m *AuthMetrics) OTPSent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.otpSent.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Login records one verify-otp outcome ("success", "invalid_otp", "expired", "too_many_attempts").
func (m *AuthMetrics) Login(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RateLimited records a rejected request for the named rule ("send_ip", "send_phone", "verify_ip").
func (m *AuthMetrics) RateLimited(ctx context.Context, rule string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// Refresh records one refresh outcome ("rotated", "reuse_detected", "invalid").
func (m *AuthMetrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
