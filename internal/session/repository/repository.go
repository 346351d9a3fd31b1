package repository

import (
	"context"
	"time"

	"github.com/akshithakatte/AgriConnect/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllSessionsByUser(ctx context.Context, userID string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	// RotateRefreshToken swaps the session's refresh jti and hash only if the current jti is oldJti
	// and the session is not revoked. It reports whether the swap happened.
	RotateRefreshToken(ctx context.Context, sessionID, oldJti, newJti, newHash string) (bool, error)
}
