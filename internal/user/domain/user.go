package domain

import (
	"errors"
	"time"
)

// Role is a user's role on the platform.
type Role string

const (
	RoleFarmer   Role = "farmer"
	RoleVLE      Role = "vle"
	RoleNGOAdmin Role = "ngo_admin"
	RoleExpert   Role = "expert"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleVLE, RoleNGOAdmin, RoleExpert:
		return true
	}
	return false
}

// User is a platform account, identified by its phone number.
type User struct {
	ID          string
	PhoneNumber string
	Name        string
	Role        Role
	Language    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate validates the user for persistence and fills defaults for role and language.
func (u *User) Validate() error {
	if u.PhoneNumber == "" {
		return errors.New("phone number is required")
	}
	if u.Role == "" {
		u.Role = RoleFarmer
	}
	if !u.Role.Valid() {
		return errors.New("unknown role " + string(u.Role))
	}
	if u.Language == "" {
		u.Language = "en"
	}
	return nil
}
