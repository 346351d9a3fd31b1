package repository

import (
	"context"

	"github.com/akshithakatte/AgriConnect/internal/audit/domain"
)

// Filter narrows List. Empty fields match everything; Limit <= 0 means DefaultLimit.
type Filter struct {
	UserID string
	Action string
	Limit  int32
	Offset int32
}

// DefaultLimit and MaxLimit bound a List page.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Repository defines persistence for audit logs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
