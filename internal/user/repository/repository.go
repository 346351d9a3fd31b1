package repository

import (
	"context"
	"errors"

	"github.com/akshithakatte/AgriConnect/internal/user/domain"
)

// ErrDuplicatePhone is returned by Create when the phone number is already registered.
var ErrDuplicatePhone = errors.New("phone number already registered")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// Update writes name, language, role and active flag. The phone number is immutable.
	Update(ctx context.Context, u *domain.User) error
}
