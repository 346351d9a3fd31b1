package repository

import (
	"context"
	"sync"
	"time"

	"github.com/akshithakatte/AgriConnect/internal/otp/domain"
)

// MemoryRepository keeps challenges in process memory. Used when REDIS_ADDR is unset and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	m    map[string]domain.Challenge
	nowF func() time.Time
}

// NewMemoryRepository returns an empty in-memory challenge repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		m:    make(map[string]domain.Challenge),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Save stores a copy of c under c.Phone.
func (r *MemoryRepository) Save(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.Phone] = *c
	return nil
}

// GetByPhone returns a copy of the phone's challenge. Entries past their expiry are evicted and reported missing.
func (r *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(phone)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepository) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(phone)
	if !ok {
		return 0, nil
	}
	c.Attempts++
	r.m[phone] = c
	return c.Attempts, nil
}

func (r *MemoryRepository) Consume(ctx context.Context, phone, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(phone)
	if !ok || c.ID != id {
		return false, nil
	}
	delete(r.m, phone)
	return true, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, phone)
	return nil
}

// live must be called with mu held.
func (r *MemoryRepository) live(phone string) (domain.Challenge, bool) {
	c, ok := r.m[phone]
	if !ok {
		return domain.Challenge{}, false
	}
	if !c.ExpiresAt.After(r.nowF()) {
		delete(r.m, phone)
		return domain.Challenge{}, false
	}
	return c, true
}
