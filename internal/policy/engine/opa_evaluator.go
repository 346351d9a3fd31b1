package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const loginQuery = "data.agriconnect.login"

// DefaultLoginPolicy allows every active user, creates new users as farmers and leaves the
// OTP lifetime and attempt cap to configuration.
const DefaultLoginPolicy = `package agriconnect.login

default allow := true
default reason := ""
default default_role := "farmer"
default otp_ttl_seconds := 0
default max_attempts := 0

allow := false if {
	input.user.exists
	not input.user.active
}

reason := "account is deactivated" if {
	input.user.exists
	not input.user.active
}
`

// OPAEvaluator evaluates the login policy with OPA Rego. The query is prepared once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module (DefaultLoginPolicy when empty). The module must declare package agriconnect.login.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultLoginPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"login.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(loginQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare login policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// NewOPAEvaluatorFromFile reads a Rego module from path; an empty path selects the default policy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// HealthCheck evaluates the prepared policy against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(LoginInput{Action: "health"})))
	if err != nil {
		return fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateLogin runs the policy. On evaluation failure it returns DefaultDecision together with the error.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return DefaultDecision(), fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return DefaultDecision(), fmt.Errorf("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DefaultDecision(), fmt.Errorf("policy result is %T, want object", rs[0].Expressions[0].Value)
	}

	out := DefaultDecision()
	if v, ok := doc["allow"].(bool); ok {
		out.Allow = v
	}
	if v, ok := doc["reason"].(string); ok {
		out.Reason = v
	}
	if v, ok := doc["default_role"].(string); ok && v != "" {
		out.DefaultRole = v
	}
	if secs := toInt(doc["otp_ttl_seconds"]); secs > 0 {
		out.OTPTTL = time.Duration(secs) * time.Second
	}
	if n := toInt(doc["max_attempts"]); n > 0 {
		out.MaxAttempts = n
	}
	return out, nil
}

func buildInput(in LoginInput) map[string]interface{} {
	return map[string]interface{}{
		"action": in.Action,
		"phone":  in.Phone,
		"ip":     in.IP,
		"user": map[string]interface{}{
			"exists": in.UserExists,
			"active": in.UserActive,
			"role":   in.UserRole,
		},
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}
