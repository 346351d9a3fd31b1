package repository

import (
	"context"
	"sync"

	"github.com/akshithakatte/AgriConnect/internal/user/domain"
)

// MemoryRepository keeps users in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byPhone map[string]string
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]domain.User),
		byPhone: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return nil, nil
	}
	u := r.byID[id]
	return &u, nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPhone[u.PhoneNumber]; ok {
		return ErrDuplicatePhone
	}
	r.byID[u.ID] = *u
	r.byPhone[u.PhoneNumber] = u.ID
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[u.ID]
	if !ok {
		return nil
	}
	cur.Name = u.Name
	cur.Role = u.Role
	cur.Language = u.Language
	cur.Active = u.Active
	cur.UpdatedAt = u.UpdatedAt
	r.byID[u.ID] = cur
	return nil
}
