package audit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/akshithakatte/AgriConnect/internal/audit/domain"
	auditrepo "github.com/akshithakatte/AgriConnect/internal/audit/repository"
)

// failingRepo fails every Create.
type failingRepo struct {
	auditrepo.MemoryRepository
}

func (f *failingRepo) Create(ctx context.Context, a *domain.AuditLog) error {
	return errors.New("database down")
}

func TestLogger_LogEvent(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	logger := NewLogger(repo, func(context.Context) string { return "192.168.1.1" }, nil)

	logger.LogEvent(context.Background(), "user-1", domain.ActionLoginSuccess, "session", `{"session_id":"s1"}`)

	list, err := repo.List(context.Background(), auditrepo.Filter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %d entries, %v", len(list), err)
	}
	e := list[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Error("ID and CreatedAt must be set")
	}
	if e.UserID != "user-1" || e.Action != domain.ActionLoginSuccess || e.Resource != "session" || e.IP != "192.168.1.1" {
		t.Errorf("entry = %+v", e)
	}
	if e.Metadata != `{"session_id":"s1"}` {
		t.Errorf("metadata = %q", e.Metadata)
	}
}

func TestLogger_UnknownIP(t *testing.T) {
	for name, extractor := range map[string]IPExtractor{
		"nil extractor":   nil,
		"empty extractor": func(context.Context) string { return "" },
	} {
		t.Run(name, func(t *testing.T) {
			repo := auditrepo.NewMemoryRepository()
			NewLogger(repo, extractor, nil).LogEvent(context.Background(), "", domain.ActionOTPSent, "otp", "")
			list, _ := repo.List(context.Background(), auditrepo.Filter{})
			if len(list) != 1 || list[0].IP != "unknown" {
				t.Fatalf("entries = %+v, want one with IP unknown", list)
			}
		})
	}
}

func TestLogger_RepoErrorIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := NewLogger(&failingRepo{}, nil, zap.New(core))

	logger.LogEvent(context.Background(), "user-1", domain.ActionLogout, "session", "")

	if logs.Len() != 1 {
		t.Fatalf("want 1 warning, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["action"] != domain.ActionLogout {
		t.Errorf("warning fields = %v", entry.ContextMap())
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.LogEvent(context.Background(), "u", "a", "r", "")
	NewLogger(nil, nil, nil).LogEvent(context.Background(), "u", "a", "r", "")
}
