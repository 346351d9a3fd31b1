package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/akshithakatte/AgriConnect/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.entries {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) List(ctx context.Context, f Filter) ([]*domain.AuditLog, error) {
	f = f.normalized()
	r.mu.RLock()
	matched := make([]*domain.AuditLog, 0, len(r.entries))
	for _, a := range r.entries {
		if (f.UserID == "" || a.UserID == f.UserID) && (f.Action == "" || a.Action == f.Action) {
			a := a
			matched = append(matched, &a)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start := int(f.Offset)
	if start >= len(matched) {
		return []*domain.AuditLog{}, nil
	}
	end := start + int(f.Limit)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *a)
	return nil
}
