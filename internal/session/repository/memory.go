package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akshithakatte/AgriConnect/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	m    map[string]domain.Session
	nowF func() time.Time
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		m:    make(map[string]domain.Session),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.m {
		if s.UserID == userID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = *s
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		now := r.nowF()
		s.RevokedAt = &now
		r.m[id] = s
	}
	return nil
}

func (r *MemoryRepository) RevokeAllSessionsByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowF()
	for id, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			r.m[id] = s
		}
	}
	return nil
}

func (r *MemoryRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastSeenAt = &at
		r.m[id] = s
	}
	return nil
}

func (r *MemoryRepository) RotateRefreshToken(ctx context.Context, sessionID, oldJti, newJti, newHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[sessionID]
	if !ok || s.RevokedAt != nil || s.RefreshJti != oldJti {
		return false, nil
	}
	s.RefreshJti = newJti
	s.RefreshTokenHash = newHash
	r.m[sessionID] = s
	return true, nil
}
